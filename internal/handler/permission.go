package handler

import (
	"context"
	"errors"
)

var ErrPermissionDenied = errors.New("无消费权限")

// PermissionGuard 消费前的权限校验，由接入层调用，账务引擎不再重复检查
type PermissionGuard interface {
	CheckConsumePermission(ctx context.Context, userID int64, deviceID string) error
}

// AllowAll 默认放行
type AllowAll struct{}

func (AllowAll) CheckConsumePermission(context.Context, int64, string) error {
	return nil
}

// DeviceAllowList 只允许名单内的设备发起消费
type DeviceAllowList map[string]bool

func (l DeviceAllowList) CheckConsumePermission(_ context.Context, _ int64, deviceID string) error {
	if !l[deviceID] {
		return ErrPermissionDenied
	}
	return nil
}
