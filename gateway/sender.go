package gateway

import "context"

// Transport sends an encrypted box to a recipient.
type Transport interface {
	SendE2E(ctx context.Context, to string, boxed []byte, nonce Nonce) (MessageID, error)
}

// Sender encrypts and delivers outbound messages.
type Sender struct {
	crypto    *Crypto
	transport Transport
}

func NewSender(crypto *Crypto, transport Transport) *Sender {
	return &Sender{crypto: crypto, transport: transport}
}

// SendText sends an E2E text message and returns its message id.
func (s *Sender) SendText(ctx context.Context, to, text string) (MessageID, error) {
	return s.Send(ctx, to, TextMessage{Text: text})
}

// Send encrypts m for to and hands it to the transport.
func (s *Sender) Send(ctx context.Context, to string, m Message) (MessageID, error) {
	boxed, nonce, err := s.crypto.Encrypt(ctx, to, m)
	if err != nil {
		return MessageID{}, err
	}
	return s.transport.SendE2E(ctx, to, boxed, nonce)
}
