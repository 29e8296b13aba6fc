package relay

import (
	"testing"
	"time"

	relaymocks "github.com/BearBump/ParcelBox/internal/services/relay/mocks"
	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}

func (s *PlannerSuite) TestDelay_Steps() {
	p := NewPlanner(BackoffConfig{Steps: DefaultBackoffConfig().Steps}, nil)
	s.Equal(5*time.Second, p.Delay(1))
	s.Equal(30*time.Second, p.Delay(2))
	s.Equal(2*time.Minute, p.Delay(3))
	s.Equal(10*time.Minute, p.Delay(4))
	s.Equal(10*time.Minute, p.Delay(50))
	s.Equal(5*time.Second, p.Delay(0))
}

func (s *PlannerSuite) TestDelay_Jitter() {
	m := &relaymocks.Rand{}
	// шаг 10s, джиттер 10% -> span 1s, диапазон [9s, 11s]
	span := int64(time.Second)
	m.On("Int63n", 2*span+1).Return(int64(0)).Once()
	m.On("Int63n", 2*span+1).Return(2 * span).Once()

	p := NewPlanner(BackoffConfig{Steps: []time.Duration{10 * time.Second}, Jitter: 0.1}, m)
	s.Equal(9*time.Second, p.Delay(1))
	s.Equal(11*time.Second, p.Delay(1))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestNext_ParksAfterMaxRetries() {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := NewPlanner(BackoffConfig{Steps: []time.Duration{time.Minute}}, nil)

	next := p.Next(now, 2, 3)
	s.Require().NotNil(next)
	s.Equal(now.Add(time.Minute), *next)

	s.Nil(p.Next(now, 3, 3))
	s.NotNil(p.Next(now, 100, 0))
}

func (s *PlannerSuite) TestDefaults() {
	p := NewPlanner(BackoffConfig{Jitter: 5}, nil)
	s.Equal(5*time.Second, p.Delay(1))
}
