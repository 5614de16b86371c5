package models

import "errors"

var (
	errNativeTokenHasAddress        = errors.New("native token must not have a contract address")
	errNonNativeTokenMissingAddress = errors.New("non-native token must have a contract address")
)
