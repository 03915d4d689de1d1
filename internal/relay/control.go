package relay

import (
	"solana-oracle-relay/internal/domain"
)

// decodeControl parses one inbound control record from the supervisor and
// reports whether it is a shutdown request.
func decodeControl(line []byte) (shutdown bool, err error) {
	msg, err := domain.DecodeRelayMessage(line)
	if err != nil {
		return false, err
	}
	return msg.Type == domain.MessageShutdown, nil
}
