package util

import "errors"

var (
	ErrEmptyTissue = errors.New("no tissue tiles found on slide")

	ErrSlideUnreadable     = errors.New("slide file unreadable")
	ErrMostlyFailedSlide   = errors.New("too many tile reads failed for slide")
	ErrFingerprintMismatch = errors.New("cached bag fingerprint mismatch")
	ErrBagNotFound         = errors.New("no cached bag for slide and fingerprint")
	ErrShapeMismatch       = errors.New("instance matrix and mask shapes disagree")
	ErrTrainingDiverged    = errors.New("training loss became non-finite")
)
