package pelconn

// SCRAM-SHA-256 authentication per RFC 5802 and RFC 7677, as PostgreSQL
// applies them: channel binding is not offered, and the user name travels
// in the startup packet, so the SCRAM n= attribute stays empty.

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"

	"github.com/pelicandb/pelican/pelproto"
)

const clientNonceLen = 18

func (c *Connector) scramAuth(ctx context.Context, serverMechanisms []string) error {
	sc, err := newScramClient(serverMechanisms, c.config.Password)
	if err != nil {
		return err
	}

	// client-first-message
	err = c.frontend.Send(&pelproto.SASLInitialResponse{
		AuthMechanism: "SCRAM-SHA-256",
		Data:          sc.clientFirstMessage(),
	})
	if err == nil {
		err = c.frontend.Flush()
	}
	if err != nil {
		return err
	}

	// server-first-message
	cont, err := c.rxSASLMessage(ctx, pelproto.AuthTypeSASLContinue)
	if err != nil {
		return err
	}
	if err := sc.recvServerFirstMessage(cont.SASLData); err != nil {
		return err
	}

	// client-final-message
	err = c.frontend.Send(&pelproto.SASLResponse{Data: sc.clientFinalMessage()})
	if err == nil {
		err = c.frontend.Flush()
	}
	if err != nil {
		return err
	}

	// server-final-message
	final, err := c.rxSASLMessage(ctx, pelproto.AuthTypeSASLFinal)
	if err != nil {
		return err
	}
	return sc.recvServerFinalMessage(final.SASLData)
}

func (c *Connector) rxSASLMessage(ctx context.Context, authType uint32) (*pelproto.Authentication, error) {
	msg, err := c.receiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	switch msg := msg.(type) {
	case *pelproto.Authentication:
		if msg.Type != authType {
			return nil, fmt.Errorf("pelconn: expected authentication type %d, got %d", authType, msg.Type)
		}
		return msg, nil
	case *pelproto.ErrorResponse:
		return nil, errorDetailsToPgError(&msg.ErrorDetails)
	default:
		return nil, protoError(msg)
	}
}

type scramClient struct {
	serverAuthMechanisms []string
	password             []byte
	clientNonce          []byte

	clientFirstMessageBare []byte

	serverFirstMessage   []byte
	clientAndServerNonce []byte
	salt                 []byte
	iterations           int

	saltedPassword []byte
	authMessage    []byte
}

func newScramClient(serverAuthMechanisms []string, password string) (*scramClient, error) {
	sc := &scramClient{
		serverAuthMechanisms: serverAuthMechanisms,
	}

	// The server must offer the mechanism we speak.
	supported := false
	for _, m := range sc.serverAuthMechanisms {
		if m == "SCRAM-SHA-256" {
			supported = true
			break
		}
	}
	if !supported {
		return nil, errors.New("server does not support SCRAM-SHA-256")
	}

	// SASLprep the password. Unprintable or malformed passwords fall back
	// to their raw form, matching server behavior.
	var err error
	sc.password, err = saslPrep(password)
	if err != nil {
		sc.password = []byte(password)
	}

	buf := make([]byte, clientNonceLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	sc.clientNonce = make([]byte, base64.RawStdEncoding.EncodedLen(len(buf)))
	base64.RawStdEncoding.Encode(sc.clientNonce, buf)

	return sc, nil
}

func saslPrep(password string) ([]byte, error) {
	s, err := precis.OpaqueString.String(password)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (sc *scramClient) clientFirstMessage() []byte {
	sc.clientFirstMessageBare = []byte(fmt.Sprintf("n=,r=%s", sc.clientNonce))
	return []byte(fmt.Sprintf("n,,%s", sc.clientFirstMessageBare))
}

func (sc *scramClient) recvServerFirstMessage(serverFirstMessage []byte) error {
	sc.serverFirstMessage = serverFirstMessage
	buf := serverFirstMessage
	if !bytes.HasPrefix(buf, []byte("r=")) {
		return errors.New("invalid SCRAM server-first-message: did not include r=")
	}
	buf = buf[2:]

	idx := bytes.IndexByte(buf, ',')
	if idx == -1 {
		return errors.New("invalid SCRAM server-first-message: did not include s=")
	}
	sc.clientAndServerNonce = buf[:idx]
	buf = buf[idx+1:]

	if !bytes.HasPrefix(buf, []byte("s=")) {
		return errors.New("invalid SCRAM server-first-message: did not include s=")
	}
	buf = buf[2:]

	idx = bytes.IndexByte(buf, ',')
	if idx == -1 {
		return errors.New("invalid SCRAM server-first-message: did not include i=")
	}
	saltStr := buf[:idx]
	buf = buf[idx+1:]

	if !bytes.HasPrefix(buf, []byte("i=")) {
		return errors.New("invalid SCRAM server-first-message: did not include i=")
	}
	iterationsStr := buf[2:]

	var err error
	sc.salt, err = base64.StdEncoding.DecodeString(string(saltStr))
	if err != nil {
		return fmt.Errorf("invalid SCRAM salt received from server: %w", err)
	}

	sc.iterations, err = strconv.Atoi(string(iterationsStr))
	if err != nil || sc.iterations <= 0 {
		return errors.New("invalid SCRAM iteration count received from server")
	}

	if !bytes.HasPrefix(sc.clientAndServerNonce, sc.clientNonce) {
		return errors.New("invalid SCRAM nonce: did not extend the client nonce")
	}

	sc.saltedPassword = pbkdf2.Key(sc.password, sc.salt, sc.iterations, 32, sha256.New)

	return nil
}

func (sc *scramClient) clientFinalMessage() []byte {
	clientFinalMessageWithoutProof := []byte(fmt.Sprintf("c=biws,r=%s", sc.clientAndServerNonce))

	sc.authMessage = bytes.Join([][]byte{
		sc.clientFirstMessageBare,
		sc.serverFirstMessage,
		clientFinalMessageWithoutProof,
	}, []byte(","))

	clientKey := computeHMAC(sc.saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := computeHMAC(storedKey[:], sc.authMessage)

	clientProof := make([]byte, len(clientKey))
	for i := range clientKey {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}
	proof := base64.StdEncoding.EncodeToString(clientProof)

	return []byte(fmt.Sprintf("%s,p=%s", clientFinalMessageWithoutProof, proof))
}

func (sc *scramClient) recvServerFinalMessage(serverFinalMessage []byte) error {
	if !bytes.HasPrefix(serverFinalMessage, []byte("v=")) {
		return errors.New("invalid SCRAM server-final-message")
	}

	serverSignature, err := base64.StdEncoding.DecodeString(string(serverFinalMessage[2:]))
	if err != nil {
		return errors.New("invalid SCRAM server-final-message: malformed verifier")
	}

	serverKey := computeHMAC(sc.saltedPassword, []byte("Server Key"))
	expected := computeHMAC(serverKey, sc.authMessage)
	if !hmac.Equal(serverSignature, expected) {
		return errors.New("invalid SCRAM server signature")
	}
	return nil
}

func computeHMAC(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}
