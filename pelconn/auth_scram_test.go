package pelconn

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScramClient(t *testing.T) *scramClient {
	t.Helper()
	sc, err := newScramClient([]string{"SCRAM-SHA-256"}, "pencil")
	require.NoError(t, err)
	return sc
}

func TestScramRequiresSupportedMechanism(t *testing.T) {
	_, err := newScramClient([]string{"SCRAM-SHA-256-PLUS"}, "pw")
	require.Error(t, err)
}

func TestScramClientFirstMessageShape(t *testing.T) {
	sc := newTestScramClient(t)
	first := sc.clientFirstMessage()
	assert.Equal(t, fmt.Sprintf("n,,n=,r=%s", sc.clientNonce), string(first))
}

func serverFirst(sc *scramClient, ext string) []byte {
	salt := base64.StdEncoding.EncodeToString([]byte("salt-salt-salt"))
	return []byte(fmt.Sprintf("r=%s%s,s=%s,i=4096", sc.clientNonce, ext, salt))
}

func TestScramRejectsForeignNonce(t *testing.T) {
	sc := newTestScramClient(t)
	sc.clientFirstMessage()

	bad := []byte(fmt.Sprintf("r=EVIL,s=%s,i=4096", base64.StdEncoding.EncodeToString([]byte("s"))))
	err := sc.recvServerFirstMessage(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce")
}

func TestScramRejectsMalformedServerFirst(t *testing.T) {
	for _, msg := range []string{
		"x=1",
		"r=abc",
		"r=abc,s=###,i=4096",
		"r=abc,s=c2FsdA==,i=zero",
	} {
		sc2 := newTestScramClient(t)
		sc2.clientFirstMessage()
		sc2.clientNonce = []byte("abc")
		sc2.clientFirstMessageBare = []byte("n=,r=abc")
		assert.Error(t, sc2.recvServerFirstMessage([]byte(msg)), msg)
	}
}

func TestScramFullExchange(t *testing.T) {
	sc := newTestScramClient(t)
	sc.clientFirstMessage()

	require.NoError(t, sc.recvServerFirstMessage(serverFirst(sc, "SERVERNONCE")))
	assert.Equal(t, 4096, sc.iterations)
	require.NotEmpty(t, sc.saltedPassword)

	final := sc.clientFinalMessage()
	prefix := fmt.Sprintf("c=biws,r=%sSERVERNONCE,p=", sc.clientNonce)
	assert.Contains(t, string(final), prefix)

	// A verifier computed from the same salted password must be accepted;
	// this pins the Client Key / Server Key derivation together.
	serverKey := computeHMAC(sc.saltedPassword, []byte("Server Key"))
	verifier := computeHMAC(serverKey, sc.authMessage)
	good := []byte("v=" + base64.StdEncoding.EncodeToString(verifier))
	require.NoError(t, sc.recvServerFinalMessage(good))

	// And a corrupted one must not.
	bad := []byte("v=" + base64.StdEncoding.EncodeToString(computeHMAC(serverKey, []byte("tampered"))))
	require.Error(t, sc.recvServerFinalMessage(bad))
}

func TestScramProofMatchesDerivation(t *testing.T) {
	// The transmitted proof must equal ClientKey XOR HMAC(H(ClientKey), AuthMessage).
	sc := newTestScramClient(t)
	sc.clientFirstMessage()
	require.NoError(t, sc.recvServerFirstMessage(serverFirst(sc, "X")))

	final := string(sc.clientFinalMessage())
	var proofB64 string
	_, err := fmt.Sscanf(final[len(final)-44-len("p="):], "p=%s", &proofB64)
	require.NoError(t, err)
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	require.NoError(t, err)

	clientKey := computeHMAC(sc.saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	signature := computeHMAC(storedKey[:], sc.authMessage)
	want := make([]byte, len(clientKey))
	for i := range want {
		want[i] = clientKey[i] ^ signature[i]
	}
	assert.Equal(t, want, proof)
}
