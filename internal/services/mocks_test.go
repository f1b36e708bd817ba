package services

import (
	"context"

	"github.com/imagely/backend/internal/gateway"
	"github.com/stretchr/testify/mock"
)

type MockTextToImage struct {
	mock.Mock
}

func (m *MockTextToImage) Generate(ctx context.Context, prompt string) ([]byte, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockOrdersAPI struct {
	mock.Mock
}

func (m *MockOrdersAPI) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*gateway.Order, error) {
	args := m.Called(ctx, amountMinor, currency, receipt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Order), args.Error(1)
}

func (m *MockOrdersAPI) FetchOrder(ctx context.Context, orderRef string) (*gateway.Order, error) {
	args := m.Called(ctx, orderRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Order), args.Error(1)
}
