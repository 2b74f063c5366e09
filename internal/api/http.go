package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"rewardLedger/internal/reward"
)

type httpError struct {
	cause  error
	status int
}

func (e *httpError) Error() string {
	return e.cause.Error()
}

func badRequest(cause error) error {
	return &httpError{cause: cause, status: http.StatusBadRequest}
}

// handlerFunc is an http.HandlerFunc that returns its error instead of writing it.
type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps a handler error to a status: httpError keeps its own, ledger
// failures map by kind, anything else is a 500.
func wrap(f handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}
		var he *httpError
		switch {
		case errors.As(err, &he):
			http.Error(w, he.cause.Error(), he.status)
		case errors.Is(err, reward.ErrUnknownPool):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, reward.ErrReentrant):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

const jsonContentType = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, obj interface{}) error {
	w.Header().Set("Content-Type", jsonContentType)
	return json.NewEncoder(w).Encode(obj)
}

func parseAddress(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, badRequest(errors.New(name + ": invalid address " + value))
	}
	return common.HexToAddress(value), nil
}

func parseAddressList(name, value string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := parseAddress(name, part)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
