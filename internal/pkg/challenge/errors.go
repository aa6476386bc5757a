package challenge

import (
	"errors"
	"net/http"
)

// ProgramError is a failure raised by the program itself, as opposed to the
// store or the signature layer.
type ProgramError struct {
	Code    uint32 `json:"code"`
	Name    string `json:"error"`
	Message string `json:"message"`

	Status int `json:"-"`
}

func (e *ProgramError) Error() string {
	return e.Message
}

func (e *ProgramError) HTTPStatus() int {
	return e.Status
}

var (
	ErrChallengeAlreadyAccepted = &ProgramError{
		Code:    6000,
		Name:    "ChallengeAlreadyAccepted",
		Message: "Challenge has already been accepted",
		Status:  http.StatusConflict,
	}
	// ErrChallengeNotActive is reserved; no instruction raises it yet.
	ErrChallengeNotActive = &ProgramError{
		Code:    6001,
		Name:    "ChallengeNotActive",
		Message: "Challenge is not active",
		Status:  http.StatusConflict,
	}
	ErrUnauthorizedUser = &ProgramError{
		Code:    6002,
		Name:    "UnauthorizedUser",
		Message: "User not authorized for this action",
		Status:  http.StatusForbidden,
	}
)

var (
	ErrAssetPairTooLong      = errors.New("asset pair exceeds reserved space")
	ErrInvalidAccountLength  = errors.New("invalid account data length")
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")
	ErrInvalidStatus         = errors.New("invalid challenge status")
	ErrInvalidOptionTag      = errors.New("invalid option tag")
)
