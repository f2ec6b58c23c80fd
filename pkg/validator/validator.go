package validator

import (
	"errors"
	"math"
	"regexp"
	"time"
)

var symbolRegex = regexp.MustCompile(`^[A-Z]{2,10}USDT$`)

func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return errors.New("invalid symbol format")
	}
	return nil
}

func ValidateTimestamp(ts int64) error {
	if ts < 0 || ts > time.Now().Unix()+86400 {
		return errors.New("invalid timestamp")
	}
	return nil
}

func ValidateAction(action int) error {
	if action < 0 || action > 2 {
		return errors.New("action must be 0 (hold), 1 (buy) or 2 (sell)")
	}
	return nil
}

func ValidateFeatures(features []float64) error {
	if len(features) == 0 {
		return errors.New("empty feature vector")
	}
	for _, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("feature vector contains non-finite values")
		}
	}
	return nil
}

func ValidateReward(reward float64) error {
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return errors.New("reward must be finite")
	}
	return nil
}
