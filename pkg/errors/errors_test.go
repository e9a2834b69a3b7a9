package errors

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalError(t *testing.T) {
	assert.False(t, IsFatal(ErrNoConfig))
	assert.True(t, IsFatal(Fatal(ErrNoConfig)))
	assert.Equal(t, ErrNoConfig, Fatal(ErrNoConfig).(*FatalError).Unwrap())
	assert.Nil(t, Fatal(nil))

	wrapped := Fatal(ErrInsufficientMemory(10, 5))
	assert.True(t, Is(wrapped, ErrAllocationFailed))
}

func TestErrArray(t *testing.T) {
	err1 := errors.New("error 1")
	err2 := errors.New("error 2")
	err3 := ErrReleased

	errArray := &ErrArray{}
	assert.Nil(t, errArray.ToError())

	errArray.AppendErr(nil)
	assert.Equal(t, 0, errArray.Len())

	errArray.AppendErr(err1)
	assert.Equal(t, err1, errArray.ToError())

	errArray.AppendErr(err2)
	assert.Equal(t, 2, len(strings.Split(errArray.ToError().Error(), "\n")))

	errArray.AppendErr(err3)
	assert.Equal(t, 3, len(strings.Split(errArray.ToError().Error(), "\n")))
	assert.True(t, Is(errArray.ToError(), ErrReleased))
	assert.True(t, Is(errArray.ToError(), err1))
}
