package challenge

import "github.com/gagliardetto/solana-go"

// AcceptWindowSeconds is the length of the window opened on acceptance.
const AcceptWindowSeconds = 60

// CreateChallenge initializes a freshly allocated record. The requested
// duration is part of the signed instruction but the window length stays
// fixed at AcceptWindowSeconds.
func CreateChallenge(creator solana.PublicKey, amount uint64, assetPair string, _ uint64) *Challenge {
	return &Challenge{
		Creator:   creator,
		Amount:    amount,
		AssetPair: assetPair,
		Status:    StatusOpen,
	}
}

// AcceptChallenge joins acceptor to c at chain time now. On error c is left
// untouched.
func AcceptChallenge(c *Challenge, acceptor solana.PublicKey, now int64) error {
	if c.Acceptor != nil {
		return ErrChallengeAlreadyAccepted
	}

	if c.Creator.Equals(acceptor) {
		return ErrUnauthorizedUser
	}

	startTime := now
	endTime := now + AcceptWindowSeconds

	c.Acceptor = &acceptor
	c.Status = StatusActive
	c.StartTime = &startTime
	c.EndTime = &endTime

	return nil
}
