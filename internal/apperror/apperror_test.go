package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsKindThroughFmtWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("receive chunk: %w", Wrap(StorageError, "Failed to save chunk", cause))

	assert.Equal(t, StorageError, KindOf(err))
	assert.True(t, Is(err, StorageError))
	assert.False(t, Is(err, InvalidInput))
	assert.Equal(t, "Failed to save chunk", Message(err))
	assert.ErrorIs(t, err, cause)
}

func TestMessageFallsBackToErrorText(t *testing.T) {
	assert.Equal(t, "plain", Message(errors.New("plain")))
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(InvalidInput, "x")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(InvalidState, "x")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(New(NoRecordsFound, "x")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(New(CorruptArchive, "x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(New(AssemblyError, "x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}
