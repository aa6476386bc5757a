package challenge_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/challenger/internal/pkg/challenge"
	"github.com/vreid/challenger/internal/pkg/common"
	"github.com/vreid/challenger/internal/pkg/host"
)

const chainTime = int64(1_700_000_000)

type fixture struct {
	echoService *common.EchoService
	events      chan challenge.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return newFixtureWithBuffer(t, 16)
}

func newFixtureWithBuffer(t *testing.T, size int) *fixture {
	t.Helper()

	events := make(chan challenge.Event, size)
	var eventSink chan<- challenge.Event = events

	i := do.New()

	do.ProvideNamedValue(i, "port", 0)
	do.ProvideNamedValue(i, "data-dir", t.TempDir())
	do.ProvideNamedValue(i, "event-sink", eventSink)
	do.ProvideValue[host.Clock](i, host.FixedClock(chainTime))

	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)
	do.Provide(i, challenge.NewChallengeService)

	_, err := do.Invoke[*challenge.ChallengeService](i)
	require.NoError(t, err)

	echoService, err := do.Invoke[*common.EchoService](i)
	require.NoError(t, err)

	databaseService, err := do.Invoke[*common.DatabaseService](i)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = databaseService.Shutdown()
	})

	return &fixture{
		echoService: echoService,
		events:      events,
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := httptest.NewRecorder()
	f.echoService.ServeHTTP(rec, req)

	result := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	}

	return rec, result
}

func newPrivateKey(t *testing.T) solana.PrivateKey {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	return key
}

func signedCreate(t *testing.T, creator solana.PrivateKey, challengeKey solana.PrivateKey) challenge.CreateRequest {
	t.Helper()

	req := challenge.CreateRequest{
		Challenge:       challengeKey.PublicKey(),
		Creator:         creator.PublicKey(),
		Amount:          1000,
		AssetPair:       "SOL/USDC",
		DurationSeconds: 120,
	}

	ix := challenge.CreateInstruction(req)

	signature, err := ix.Sign(creator)
	require.NoError(t, err)

	challengeSignature, err := ix.Sign(challengeKey)
	require.NoError(t, err)

	req.Signature = signature
	req.ChallengeSignature = challengeSignature

	return req
}

func signedAccept(
	t *testing.T,
	acceptor solana.PrivateKey,
	creator solana.PublicKey,
	address solana.PublicKey,
) challenge.AcceptRequest {
	t.Helper()

	req := challenge.AcceptRequest{
		Acceptor: acceptor.PublicKey(),
		Creator:  creator,
	}

	signature, err := challenge.AcceptInstruction(address, req).Sign(acceptor)
	require.NoError(t, err)

	req.Signature = signature

	return req
}

func TestCreateAndAcceptChallenge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	creator := newPrivateKey(t)
	acceptor := newPrivateKey(t)
	challengeKey := newPrivateKey(t)
	address := challengeKey.PublicKey()

	rec, body := f.do(t, http.MethodPost, "/api/challenges", signedCreate(t, creator, challengeKey))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := body["challenge"].(map[string]any)
	assert.Equal(t, address.String(), body["address"])
	assert.Equal(t, creator.PublicKey().String(), created["creator"])
	assert.InDelta(t, 1000, created["amount"], 0)
	assert.Equal(t, "SOL/USDC", created["asset_pair"])
	assert.InDelta(t, 0, created["status"], 0)
	assert.Nil(t, created["acceptor"])
	assert.Nil(t, created["start_time"])
	assert.Nil(t, created["end_time"])

	event := <-f.events
	assert.Equal(t, challenge.EventCreated, event.Kind)
	assert.Equal(t, address, event.Address)

	target := "/api/challenges/" + address.String() + "/accept"

	rec, body = f.do(t, http.MethodPost, target, signedAccept(t, acceptor, creator.PublicKey(), address))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	accepted := body["challenge"].(map[string]any)
	assert.InDelta(t, 1, accepted["status"], 0)
	assert.Equal(t, acceptor.PublicKey().String(), accepted["acceptor"])
	assert.InDelta(t, chainTime, accepted["start_time"], 0)
	assert.InDelta(t, chainTime+60, accepted["end_time"], 0)
	assert.Nil(t, accepted["winner"])

	event = <-f.events
	assert.Equal(t, challenge.EventAccepted, event.Kind)
	assert.Equal(t, challenge.StatusActive, event.Challenge.Status)

	rec, body = f.do(t, http.MethodPost, target, signedAccept(t, newPrivateKey(t), creator.PublicKey(), address))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ChallengeAlreadyAccepted", body["error"])
	assert.InDelta(t, 6000, body["code"], 0)

	rec, body = f.do(t, http.MethodGet, "/api/challenges/"+address.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, accepted, body["challenge"])

	assert.Empty(t, f.events)
}

func TestAcceptOwnChallenge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	creator := newPrivateKey(t)
	challengeKey := newPrivateKey(t)
	address := challengeKey.PublicKey()

	rec, _ := f.do(t, http.MethodPost, "/api/challenges", signedCreate(t, creator, challengeKey))
	require.Equal(t, http.StatusCreated, rec.Code)

	target := "/api/challenges/" + address.String() + "/accept"

	rec, body := f.do(t, http.MethodPost, target, signedAccept(t, creator, creator.PublicKey(), address))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UnauthorizedUser", body["error"])
	assert.InDelta(t, 6002, body["code"], 0)

	_, body = f.do(t, http.MethodGet, "/api/challenges/"+address.String(), nil)
	stored := body["challenge"].(map[string]any)
	assert.InDelta(t, 0, stored["status"], 0)
	assert.Nil(t, stored["acceptor"])
}

func TestRejectedRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	creator := newPrivateKey(t)
	challengeKey := newPrivateKey(t)

	forged := signedCreate(t, creator, challengeKey)
	forged.Amount = 1

	rec, _ := f.do(t, http.MethodPost, "/api/challenges", forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/challenges", signedCreate(t, creator, challengeKey))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/challenges", signedCreate(t, creator, challengeKey))
	assert.Equal(t, http.StatusConflict, rec.Code)

	longKey := newPrivateKey(t)
	long := challenge.CreateRequest{
		Challenge: longKey.PublicKey(),
		Creator:   creator.PublicKey(),
		AssetPair: strings.Repeat("X", challenge.MaxAssetPairLen+1),
	}

	signature, err := challenge.CreateInstruction(long).Sign(creator)
	require.NoError(t, err)

	challengeSignature, err := challenge.CreateInstruction(long).Sign(longKey)
	require.NoError(t, err)

	long.Signature = signature
	long.ChallengeSignature = challengeSignature

	rec, _ = f.do(t, http.MethodPost, "/api/challenges", long)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := newPrivateKey(t).PublicKey()

	rec, _ = f.do(t, http.MethodGet, "/api/challenges/"+unknown.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	acceptor := newPrivateKey(t)

	rec, _ = f.do(t, http.MethodPost, "/api/challenges/"+unknown.String()+"/accept",
		signedAccept(t, acceptor, creator.PublicKey(), unknown))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/challenges/not-a-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListChallengesByCreator(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	creator := newPrivateKey(t)
	other := newPrivateKey(t)

	for _, key := range []solana.PrivateKey{creator, creator, other} {
		rec, _ := f.do(t, http.MethodPost, "/api/challenges", signedCreate(t, key, newPrivateKey(t)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/challenges?creator="+creator.PublicKey().String(), nil)
	rec := httptest.NewRecorder()
	f.echoService.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var accounts []challenge.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))

	require.Len(t, accounts, 2)

	for _, account := range accounts {
		assert.Equal(t, creator.PublicKey(), account.Challenge.Creator)
		assert.Equal(t, challenge.StatusOpen, account.Challenge.Status)
	}
}

func TestCreateRequiresChallengeKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	owner := newPrivateKey(t)
	squatter := newPrivateKey(t)
	challengeKey := newPrivateKey(t)

	unsigned := challenge.CreateRequest{
		Challenge: challengeKey.PublicKey(),
		Creator:   squatter.PublicKey(),
		Amount:    1,
		AssetPair: "SOL/USDC",
	}

	signature, err := challenge.CreateInstruction(unsigned).Sign(squatter)
	require.NoError(t, err)

	unsigned.Signature = signature

	rec, _ := f.do(t, http.MethodPost, "/api/challenges", unsigned)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a signature by the creator in place of the challenge key
	unsigned.ChallengeSignature = signature

	rec, _ = f.do(t, http.MethodPost, "/api/challenges", unsigned)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/challenges/"+challengeKey.PublicKey().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/challenges", signedCreate(t, owner, challengeKey))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestConcurrentAccept(t *testing.T) {
	t.Parallel()

	const acceptors = 8

	f := newFixture(t)

	creator := newPrivateKey(t)
	challengeKey := newPrivateKey(t)
	address := challengeKey.PublicKey()

	rec, _ := f.do(t, http.MethodPost, "/api/challenges", signedCreate(t, creator, challengeKey))
	require.Equal(t, http.StatusCreated, rec.Code)

	target := "/api/challenges/" + address.String() + "/accept"

	keys := make([]solana.PrivateKey, acceptors)
	bodies := make([][]byte, acceptors)

	for idx := range acceptors {
		keys[idx] = newPrivateKey(t)

		data, err := json.Marshal(signedAccept(t, keys[idx], creator.PublicKey(), address))
		require.NoError(t, err)

		bodies[idx] = data
	}

	recorders := make([]*httptest.ResponseRecorder, acceptors)

	var wg sync.WaitGroup

	for idx := range acceptors {
		wg.Add(1)

		go func() {
			defer wg.Done()

			req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(bodies[idx]))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

			recorders[idx] = httptest.NewRecorder()
			f.echoService.ServeHTTP(recorders[idx], req)
		}()
	}

	wg.Wait()

	winner := -1

	for idx, rec := range recorders {
		if rec.Code == http.StatusOK {
			assert.Equal(t, -1, winner, "more than one accept succeeded")

			winner = idx

			continue
		}

		assert.Equal(t, http.StatusConflict, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ChallengeAlreadyAccepted", body["error"])
	}

	require.NotEqual(t, -1, winner)

	_, body := f.do(t, http.MethodGet, "/api/challenges/"+address.String(), nil)
	stored := body["challenge"].(map[string]any)
	assert.Equal(t, keys[winner].PublicKey().String(), stored["acceptor"])
	assert.InDelta(t, 1, stored["status"], 0)
}

func TestFullEventBufferDoesNotBlock(t *testing.T) {
	t.Parallel()

	f := newFixtureWithBuffer(t, 1)

	creator := newPrivateKey(t)

	for range 3 {
		rec, _ := f.do(t, http.MethodPost, "/api/challenges", signedCreate(t, creator, newPrivateKey(t)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	assert.Len(t, f.events, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/challenges?creator="+creator.PublicKey().String(), nil)
	rec := httptest.NewRecorder()
	f.echoService.ServeHTTP(rec, req)

	var accounts []challenge.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	assert.Len(t, accounts, 3)
}
