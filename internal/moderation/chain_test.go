package moderation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingInspector struct {
	called bool
	err    error
}

func (r *recordingInspector) Inspect(content string, userId int) error {
	r.called = true
	return r.err
}

func Test_ChainShortCircuit(t *testing.T) {
	first := &recordingInspector{err: &ContentRejectedError{Reason: "banned term"}}
	second := &recordingInspector{}
	chain := NewChain(first, second)

	err := chain.Inspect("anything", 1)

	var rejected *ContentRejectedError
	assert.ErrorAs(t, err, &rejected)
	assert.True(t, first.called)
	assert.False(t, second.called, "expected chain to stop at first rejection")
}

func Test_ChainPass(t *testing.T) {
	first := &recordingInspector{}
	second := &recordingInspector{}
	chain := NewChain(first, second)

	err := chain.Inspect("hello", 1)
	assert.NoError(t, err)
	assert.True(t, first.called)
	assert.True(t, second.called)
}

func Test_ProfanityFilter(t *testing.T) {
	filter := NewProfanityFilter([]DictEntry{
		{Token: "cc", Substring: false},
		{Token: "badstem", Substring: true},
	})

	t.Run("whole word match rejects", func(t *testing.T) {
		err := filter.Inspect("this contains cc as a token", 1)
		var rejected *ContentRejectedError
		assert.ErrorAs(t, err, &rejected)
	})

	t.Run("word entry does not match inside other words", func(t *testing.T) {
		assert.NoError(t, filter.Inspect("accent soccer", 1))
	})

	t.Run("substring entry matches inside words", func(t *testing.T) {
		err := filter.Inspect("xbadstemmy", 1)
		var rejected *ContentRejectedError
		assert.ErrorAs(t, err, &rejected)
	})

	t.Run("case folded", func(t *testing.T) {
		err := filter.Inspect("CC", 1)
		var rejected *ContentRejectedError
		assert.ErrorAs(t, err, &rejected)
	})

	t.Run("diacritics stripped", func(t *testing.T) {
		err := filter.Inspect("çç", 1)
		var rejected *ContentRejectedError
		assert.ErrorAs(t, err, &rejected)
	})

	t.Run("clean content passes", func(t *testing.T) {
		assert.NoError(t, filter.Inspect("a perfectly fine message", 1))
	})
}

func Test_ChainPropagatesNonRejectionErrors(t *testing.T) {
	infraErr := errors.New("inspector unavailable")
	chain := NewChain(&recordingInspector{err: infraErr})

	err := chain.Inspect("hello", 1)
	assert.ErrorIs(t, err, infraErr)
}
