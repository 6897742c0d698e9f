package roaming

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/q-controller/nea-supervisor/src/protocol"
)

const nonceSize = 32

// Bus is the part of the supervisor a Responder needs.
type Bus interface {
	Subscribe(name protocol.EventName, fn func(protocol.Response)) func()
	Send(req protocol.Request) error
}

// Responder completes roaming authentication on behalf of a roaming service.
// When a band reports its nonce, it answers with a fresh server nonce and a
// signature over bandNonce||serverNonce.
type Responder struct {
	signer *Signer
	random io.Reader
	log    *slog.Logger
}

func NewResponder(signer *Signer, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{signer: signer, random: rand.Reader, log: log}
}

// Attach starts answering nonce reports published on bus. The returned
// function detaches the responder.
func (r *Responder) Attach(bus Bus) func() {
	return bus.Subscribe(protocol.EventRoamingAuthReportNonce, func(resp protocol.Response) {
		event, ok := resp.(*protocol.RoamingAuthNonceEvent)
		if !ok {
			return
		}
		req, err := r.Respond(event)
		if err != nil {
			r.log.Error("could not answer roaming auth nonce", "error", err)
			return
		}
		if err := bus.Send(req); err != nil {
			r.log.Error("could not send roaming auth signature", "error", err)
		}
	})
}

// Respond builds the roaming-auth-sig request for a nonce report.
func (r *Responder) Respond(event *protocol.RoamingAuthNonceEvent) (protocol.Request, error) {
	bandNonce, err := event.NymibandNonceBytes()
	if err != nil {
		return protocol.Request{}, err
	}
	serverNonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(r.random, serverNonce); err != nil {
		return protocol.Request{}, err
	}
	signature, err := r.signer.Sign(append(bandNonce, serverNonce...))
	if err != nil {
		return protocol.Request{}, err
	}
	r.log.Debug("answering roaming auth nonce", "exchange", event.Exchange)
	return protocol.CompleteRoamingAuth(r.signer.PublicKeyHex(), hex.EncodeToString(serverNonce), signature, event.Exchange), nil
}
