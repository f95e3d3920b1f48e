package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"consumeledger/internal/config"

	"github.com/shopspring/decimal"
)

var ErrUnknownPolicy = errors.New("未知的定价策略")

// Request 定价输入
type Request struct {
	AccountID   int64
	UserID      int64
	DeviceID    string
	ConsumeMode string
	Amount      decimal.Decimal
}

// Result 定价结果，DiscountAmount = 原价 - FinalAmount
type Result struct {
	FinalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
}

// Policy 定价策略，同样的输入必须得到同样的结果
//
// 调用方在 business.pricing_timeout 到期后取消 ctx 并直接返回 ErrPricingFailed，
// Evaluate 必须响应 ctx 取消尽快返回，否则超时的调用会在后台持续堆积 goroutine。
type Policy interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// PolicyFunc 函数适配
type PolicyFunc func(ctx context.Context, req Request) (Result, error)

func (f PolicyFunc) Evaluate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

func resultOf(original, final decimal.Decimal) Result {
	return Result{FinalAmount: final, DiscountAmount: original.Sub(final)}
}

// PassThrough 原价扣款
type PassThrough struct{}

func (PassThrough) Evaluate(_ context.Context, req Request) (Result, error) {
	return resultOf(req.Amount, req.Amount), nil
}

// RateDiscount 按消费模式打折，结果四舍五入到分；未配置的模式按原价
type RateDiscount struct {
	Rates map[string]decimal.Decimal
}

func (p RateDiscount) Evaluate(_ context.Context, req Request) (Result, error) {
	rate, ok := p.Rates[req.ConsumeMode]
	if !ok {
		return resultOf(req.Amount, req.Amount), nil
	}
	final := req.Amount.Mul(rate).Round(2)
	return resultOf(req.Amount, final), nil
}

// FixedPrice 套餐价：配置了价格的模式按固定价扣款，不超过请求金额
type FixedPrice struct {
	Prices map[string]decimal.Decimal
}

func (p FixedPrice) Evaluate(_ context.Context, req Request) (Result, error) {
	price, ok := p.Prices[req.ConsumeMode]
	if !ok {
		return resultOf(req.Amount, req.Amount), nil
	}
	return resultOf(req.Amount, decimal.Min(price, req.Amount)), nil
}

func parseTable(table map[string]string, allowAboveOne bool) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(table))
	for mode, raw := range table {
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("定价配置 %s=%q 解析失败: %w", mode, raw, err)
		}
		if v.IsNegative() || (!allowAboveOne && v.GreaterThan(decimal.NewFromInt(1))) {
			return nil, fmt.Errorf("定价配置 %s=%s 超出范围", mode, v)
		}
		out[mode] = v
	}
	return out, nil
}

// NewFromConfig 根据 pricing.policy 构建内置策略
func NewFromConfig(cfg *config.PricingConfig) (Policy, error) {
	switch cfg.Policy {
	case "", "passthrough":
		return PassThrough{}, nil
	case "rate":
		rates, err := parseTable(cfg.ModeRates, false)
		if err != nil {
			return nil, err
		}
		return RateDiscount{Rates: rates}, nil
	case "fixed":
		prices, err := parseTable(cfg.FixedPrice, true)
		if err != nil {
			return nil, err
		}
		return FixedPrice{Prices: prices}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, cfg.Policy)
	}
}
