package mocks

import "github.com/stretchr/testify/mock"

type Rand struct {
	mock.Mock
}

func (m *Rand) Int63n(n int64) int64 {
	args := m.Called(n)
	return args.Get(0).(int64)
}
