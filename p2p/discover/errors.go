package discover

import "errors"

var (
	errClosed   = errors.New("discover: socket closed")
	errTimeout  = errors.New("discover: RPC timeout")
	errLowPort  = errors.New("discover: low port")
	errNoQuery  = errors.New("discover: no query in progress")
	errWrongEndpoint = errors.New("discover: response from wrong endpoint")

	errChallengeNoCall = errors.New("discover: handshake challenge matches no active call")
	errChallengeTwice  = errors.New("discover: second handshake attempt for same call")
)
