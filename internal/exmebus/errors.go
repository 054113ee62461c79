package exmebus

import "errors"

// Domain errors for the exmebus package.
var (
	// ErrConversionError is returned when a value does not parse for the
	// fixed-width type its view type selects (e.g. "abc" for an unsigned short).
	ErrConversionError = errors.New("exmebus: value conversion failed")

	// ErrConversionNotDefined is returned when no encoding exists for a view
	// type, or when a record cannot be serialized into a frame.
	ErrConversionNotDefined = errors.New("exmebus: conversion not defined")

	// ErrPreliminaryDataNotValid is returned when an inbound event is
	// malformed or lacks a field every record needs.
	ErrPreliminaryDataNotValid = errors.New("exmebus: preliminary data not valid")

	// ErrInvalidFrame is returned when decoding bytes that are not a valid
	// own data signal frame.
	ErrInvalidFrame = errors.New("exmebus: invalid frame")

	// ErrNotConnected is returned when writing without a collector connection.
	ErrNotConnected = errors.New("exmebus: not connected to collector")

	// ErrConnectionFailed is returned when dialling the collector fails.
	ErrConnectionFailed = errors.New("exmebus: connection to collector failed")

	// ErrWriteFailed is returned when a frame cannot be written to the collector.
	ErrWriteFailed = errors.New("exmebus: frame write failed")
)
