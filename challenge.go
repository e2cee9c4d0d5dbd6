package vouch

import "crypto/rand"

//ChallengeLength is the size in bytes of generated challenges. Must be at
//least MinChallengeLength.
var ChallengeLength = 32

//MinChallengeLength is the smallest challenge the ceremonies will accept,
//per WebAuthn Level 1 TR §13.1.
const MinChallengeLength = 16

//GenerateChallenge generates a random challenge used in both the
//registration and authentication ceremonies.
func GenerateChallenge() ([]byte, error) {
	if ChallengeLength < MinChallengeLength {
		return nil, ErrGenerateChallenge.Wrap(NewError("Challenge length %d is below the %d byte minimum", ChallengeLength, MinChallengeLength))
	}

	challenge := make([]byte, ChallengeLength)
	n, err := rand.Read(challenge)
	if err != nil {
		return nil, ErrGenerateChallenge.Wrap(err)
	}
	if n < ChallengeLength {
		return nil, ErrGenerateChallenge.Wrap(NewError("Read %d random bytes, needed %d", n, ChallengeLength))
	}

	return challenge, nil
}

//checkChallenge rejects absent or undersized stored challenges before any
//comparison happens. A nil challenge is a precondition failure, never a
//wildcard match.
func checkChallenge(challenge []byte) error {
	if len(challenge) == 0 {
		return ErrChallengeMissing
	}
	if len(challenge) < MinChallengeLength {
		return ErrChallengeMissing.Wrap(NewError("Stored challenge is %d bytes, below the %d byte minimum", len(challenge), MinChallengeLength))
	}
	return nil
}
