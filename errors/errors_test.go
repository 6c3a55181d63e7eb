package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nirvanko/php-src/values"
)

func TestErrorLevels(t *testing.T) {
	fatal := NewFatal("broken %s", "invariant")
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsRecoverable(fatal))
	assert.Equal(t, "Fatal error: broken invariant", fatal.Error())

	rec := NewRecoverable("not allowed")
	assert.True(t, IsRecoverable(rec))
	assert.False(t, IsFatal(rec))
	assert.Equal(t, "Recoverable error: not allowed", rec.Error())
}

func TestThrownWrapsValue(t *testing.T) {
	v := values.NewString("boom")
	thrown := Throw(v)

	got, ok := AsThrown(thrown)
	assert.True(t, ok)
	assert.Same(t, v, got.Value)
	assert.Contains(t, thrown.Error(), "boom")
	v.Release()
}

func TestThrowMessageBuildsExceptionObject(t *testing.T) {
	thrown := ThrowMessage("Exception", "something happened")
	assert.True(t, thrown.Value.IsObject())
	assert.Equal(t, "Exception", thrown.Value.ObjectClassName())

	msg := thrown.Value.ObjectGet("message")
	assert.Equal(t, "something happened", msg.ToString())
	assert.Contains(t, thrown.Error(), "something happened")
	thrown.Value.Release()
}

func TestAsThrownRejectsOtherErrors(t *testing.T) {
	_, ok := AsThrown(NewFatal("nope"))
	assert.False(t, ok)
}
