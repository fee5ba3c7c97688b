package model

import "errors"

var (
	// ErrConfiguration marks malformed topologies and invalid evaluation parameters.
	ErrConfiguration = errors.New("configuration error")
	// ErrInsufficientData marks a lookback window that leaves nothing to score.
	ErrInsufficientData = errors.New("insufficient data")
	ErrUnknownMetric    = errors.New("unknown metric")
)
