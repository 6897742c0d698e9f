package roaming

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/q-controller/nea-supervisor/src/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generate(t *testing.T) []byte {
	t.Helper()
	bundle, err := GenerateCertificate(CertificateRequest{CommonName: "roaming.example", Days: 30}, time.Now())
	require.NoError(t, err)
	return bundle
}

func TestSignVerify(t *testing.T) {
	bundle := generate(t)
	signer, err := LoadSigner(bundle)
	require.NoError(t, err)

	message := []byte("band-nonce-and-server-nonce")
	signature, err := signer.Sign(message)
	require.NoError(t, err)
	assert.Len(t, signature, 128)
	assert.Len(t, signer.PublicKeyHex(), 128)

	assert.True(t, Verify(hex.EncodeToString(message), signature, signer.PublicKeyHex()))
	assert.False(t, Verify(hex.EncodeToString([]byte("other")), signature, signer.PublicKeyHex()))
	assert.False(t, Verify("zz", signature, signer.PublicKeyHex()))
	assert.False(t, Verify(hex.EncodeToString(message), signature[:64], signer.PublicKeyHex()))
}

func TestPublicKeyFromCertificate(t *testing.T) {
	bundle := generate(t)
	signer, err := LoadSigner(bundle)
	require.NoError(t, err)

	publicKey, err := PublicKeyFromCertificate(bundle)
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKeyHex(), publicKey)
}

func TestGenerateCertificateRejects(t *testing.T) {
	_, err := GenerateCertificate(CertificateRequest{Days: 10}, time.Now())
	assert.ErrorIs(t, err, ErrEmptySubject)

	_, err = GenerateCertificate(CertificateRequest{CommonName: "x", Days: 100000}, time.Now())
	assert.Error(t, err)
}

func TestLoadSignerWithoutKey(t *testing.T) {
	_, err := LoadSigner([]byte("not pem"))
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestDerToRaw(t *testing.T) {
	_, err := derToRaw([]byte{0x30, 0x01})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// SEQUENCE { INTEGER 1, INTEGER 2 }
	raw, err := derToRaw([]byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02})
	require.NoError(t, err)
	require.Len(t, raw, 64)
	assert.Equal(t, byte(1), raw[31])
	assert.Equal(t, byte(2), raw[63])
}

type fakeBus struct {
	handlers map[protocol.EventName]func(protocol.Response)
	sent     []protocol.Request
}

func (b *fakeBus) Subscribe(name protocol.EventName, fn func(protocol.Response)) func() {
	b.handlers[name] = fn
	return func() { delete(b.handlers, name) }
}

func (b *fakeBus) Send(req protocol.Request) error {
	b.sent = append(b.sent, req)
	return nil
}

func TestResponderAnswersNonce(t *testing.T) {
	signer, err := LoadSigner(generate(t))
	require.NoError(t, err)

	responder := NewResponder(signer, nil)
	responder.random = bytes.NewReader(bytes.Repeat([]byte{0xab}, nonceSize))

	bus := &fakeBus{handlers: map[protocol.EventName]func(protocol.Response){}}
	detach := responder.Attach(bus)

	bandNonce := "0102030405"
	event := &protocol.RoamingAuthNonceEvent{NymibandNonce: bandNonce}
	event.Exchange = "ex-7"
	bus.handlers[protocol.EventRoamingAuthReportNonce](event)

	require.Len(t, bus.sent, 1)
	req := bus.sent[0]
	assert.Equal(t, protocol.PathRoamingAuthSigRun, req.Path)
	assert.Equal(t, "ex-7", req.Exchange)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	var wire struct {
		Request struct {
			PartnerPublicKey string `json:"partnerPublicKey"`
			ServerNonce      string `json:"serverNonce"`
			ServerSignature  string `json:"serverSignature"`
		} `json:"request"`
	}
	require.NoError(t, json.Unmarshal(data, &wire))
	serverNonce := hex.EncodeToString(bytes.Repeat([]byte{0xab}, nonceSize))
	assert.Equal(t, serverNonce, wire.Request.ServerNonce)
	assert.Equal(t, signer.PublicKeyHex(), wire.Request.PartnerPublicKey)
	assert.True(t, Verify(bandNonce+serverNonce, wire.Request.ServerSignature, signer.PublicKeyHex()))

	detach()
	assert.Empty(t, bus.handlers)
}
