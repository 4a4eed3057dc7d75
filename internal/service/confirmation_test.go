package service

import (
	"context"
	"errors"
	"testing"

	"payment-settlement-core/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestConfirmationTracker_TakesMaxOfReportedAndChain(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	source := mocks.NewMockConfirmationSource(ctrl)
	tracker := NewConfirmationTracker(source, zerolog.Nop())

	source.EXPECT().Confirmations(gomock.Any(), "TRON", "hash-1").Return(5, nil)
	assert.Equal(t, 5, tracker.Effective(context.Background(), "TRON", "hash-1", 2))

	source.EXPECT().Confirmations(gomock.Any(), "TRON", "hash-2").Return(1, nil)
	assert.Equal(t, 4, tracker.Effective(context.Background(), "TRON", "hash-2", 4),
		"a stale chain answer never lowers the reported count")
}

func TestConfirmationTracker_FallsBackOnSourceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	source := mocks.NewMockConfirmationSource(ctrl)
	tracker := NewConfirmationTracker(source, zerolog.Nop())

	source.EXPECT().Confirmations(gomock.Any(), "ETHEREUM", "hash-3").
		Return(0, errors.New("rpc node down"))
	assert.Equal(t, 7, tracker.Effective(context.Background(), "ETHEREUM", "hash-3", 7))
}

func TestConfirmationTracker_NilSourceAndEmptyHash(t *testing.T) {
	tracker := NewConfirmationTracker(nil, zerolog.Nop())
	assert.Equal(t, 3, tracker.Effective(context.Background(), "BITCOIN", "hash-4", 3))

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	source := mocks.NewMockConfirmationSource(ctrl)
	tracker = NewConfirmationTracker(source, zerolog.Nop())
	// No source call expected without a transaction hash.
	assert.Equal(t, 2, tracker.Effective(context.Background(), "BITCOIN", "", 2))
}
