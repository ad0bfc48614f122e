package readahead

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyStartsAtMin(t *testing.T) {
	p := NewPolicy(2)
	require.Equal(t, 2, p.Factor(100))
}

func TestPolicyIncreaseSaturatesAtUpperBound(t *testing.T) {
	p := NewPolicy(1)
	for i := 0; i < 10; i++ {
		p.Increase(3)
	}
	require.Equal(t, 3, p.Factor(3))
}

func TestPolicyDecreaseSaturatesAtMin(t *testing.T) {
	p := NewPolicy(2)
	p.Increase(10)
	p.Increase(10)
	for i := 0; i < 10; i++ {
		p.Decrease()
	}
	require.Equal(t, 2, p.Factor(10))
}

func TestPolicyFactorShrinksWithUpperBound(t *testing.T) {
	p := NewPolicy(1)
	for i := 0; i < 10; i++ {
		p.Increase(20)
	}
	require.Equal(t, 5, p.Factor(5))
}

func TestPolicyConcurrentAdjustmentsNeverOvershoot(t *testing.T) {
	p := NewPolicy(1)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Increase(10)
		}()
	}
	wg.Wait()
	require.Equal(t, 10, p.Factor(10))
}
