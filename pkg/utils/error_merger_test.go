package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeErrorChans(t *testing.T) {
	ch1 := make(chan error, 1)
	ch2 := make(chan error, 1)

	merged := MergeErrorChans(ch1, ch2)

	ch1 <- errors.New("first")
	ch2 <- errors.New("second")
	close(ch1)
	close(ch2)

	var received []string
	for err := range merged {
		received = append(received, err.Error())
	}
	assert.ElementsMatch(t, []string{"first", "second"}, received)
}

func TestMergeErrorChansClosesWhenAllInputsClose(t *testing.T) {
	ch1 := make(chan error)
	ch2 := make(chan error)

	merged := MergeErrorChans(ch1, ch2)
	close(ch1)
	close(ch2)

	select {
	case _, open := <-merged:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("merged channel did not close")
	}
}

func TestMergeErrorChansNoInputs(t *testing.T) {
	merged := MergeErrorChans()
	select {
	case _, open := <-merged:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("merged channel did not close")
	}
}
