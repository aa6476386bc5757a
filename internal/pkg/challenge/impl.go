package challenge

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/challenger/internal/pkg/common"
	"github.com/vreid/challenger/internal/pkg/host"
)

type ChallengeService struct {
	DatabaseService *common.DatabaseService
	Clock           host.Clock

	EventSink chan<- Event
}

func NewChallengeService(i do.Injector) (*ChallengeService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	clock := do.MustInvoke[host.Clock](i)
	eventSink := do.MustInvokeNamed[chan<- Event](i, "event-sink")

	result := &ChallengeService{
		DatabaseService: databaseService,
		Clock:           clock,

		EventSink: eventSink,
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		apiGroup := e.Group("/api")

		challengeGroup := apiGroup.Group("/challenges")

		challengeGroup.POST("", result.PostChallenge)
		challengeGroup.GET("", result.GetChallenges)
		challengeGroup.GET("/:address", result.GetChallenge)
		challengeGroup.POST("/:address/accept", result.PostAccept)
	})

	return result, nil
}

// Create verifies the creator's and the record key's signatures and allocates
// a new Open record at req.Challenge.
func (s *ChallengeService) Create(req CreateRequest) (*Challenge, error) {
	ix := CreateInstruction(req)

	err := ix.VerifySigner(req.Creator, req.Signature)
	if err != nil {
		//nolint:wrapcheck
		return nil, err
	}

	err = ix.VerifySigner(req.Challenge, req.ChallengeSignature)
	if err != nil {
		//nolint:wrapcheck
		return nil, err
	}

	c := CreateChallenge(req.Creator, req.Amount, req.AssetPair, req.DurationSeconds)

	data, err := EncodeAccount(c)
	if err != nil {
		return nil, err
	}

	err = s.DatabaseService.Allocate(req.Challenge[:], data)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate challenge %s: %w", req.Challenge, err)
	}

	s.emit(EventCreated, req.Challenge, c)

	return c, nil
}

// Accept verifies the acceptor's signature and moves the record at address
// from Open to Active. A rejected call leaves the stored record as it was.
func (s *ChallengeService) Accept(address solana.PublicKey, req AcceptRequest) (*Challenge, error) {
	err := AcceptInstruction(address, req).VerifySigner(req.Acceptor, req.Signature)
	if err != nil {
		//nolint:wrapcheck
		return nil, err
	}

	var c *Challenge

	err = s.DatabaseService.Mutate(address[:], func(data []byte) ([]byte, error) {
		decoded, err := DecodeAccount(data)
		if err != nil {
			return nil, err
		}

		err = AcceptChallenge(decoded, req.Acceptor, s.Clock.UnixTimestamp())
		if err != nil {
			return nil, err
		}

		c = decoded

		return EncodeAccount(decoded)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to accept challenge %s: %w", address, err)
	}

	s.emit(EventAccepted, address, c)

	return c, nil
}

func (s *ChallengeService) Get(address solana.PublicKey) (*Challenge, error) {
	data, err := s.DatabaseService.Load(address[:])
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge %s: %w", address, err)
	}

	return DecodeAccount(data)
}

func (s *ChallengeService) ListByCreator(creator solana.PublicKey) ([]Account, error) {
	result := []Account{}

	err := s.DatabaseService.Scan(CreatorOffset, creator[:], func(address, data []byte) error {
		c, err := DecodeAccount(data)
		if err != nil {
			return fmt.Errorf("account %s: %w", solana.PublicKeyFromBytes(address), err)
		}

		result = append(result, Account{
			Address:   solana.PublicKeyFromBytes(address),
			Challenge: *c,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan challenges: %w", err)
	}

	return result, nil
}

func (s *ChallengeService) emit(kind EventKind, address solana.PublicKey, c *Challenge) {
	if s.EventSink == nil {
		return
	}

	event := Event{
		Kind:      kind,
		Address:   address,
		Challenge: *c,
		Timestamp: s.Clock.UnixTimestamp(),
	}

	// the invocation already committed; a full journal must not stall callers
	select {
	case s.EventSink <- event:
	default:
		log.Printf("event buffer full, dropping %s event for %s", kind, address)
	}
}

func (s *ChallengeService) PostChallenge(c echo.Context) error {
	var req CreateRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.Create(req)
	if err != nil {
		return respondError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, Account{Address: req.Challenge, Challenge: *result})
}

func (s *ChallengeService) PostAccept(c echo.Context) error {
	address, err := solana.PublicKeyFromBase58(c.Param("address"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid challenge address")
	}

	var req AcceptRequest

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.Accept(address, req)
	if err != nil {
		return respondError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, Account{Address: address, Challenge: *result})
}

func (s *ChallengeService) GetChallenge(c echo.Context) error {
	address, err := solana.PublicKeyFromBase58(c.Param("address"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid challenge address")
	}

	result, err := s.Get(address)
	if err != nil {
		return respondError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, Account{Address: address, Challenge: *result})
}

func (s *ChallengeService) GetChallenges(c echo.Context) error {
	creator, err := solana.PublicKeyFromBase58(c.QueryParam("creator"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid creator")
	}

	result, err := s.ListByCreator(creator)
	if err != nil {
		return respondError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, result)
}

func respondError(err error) error {
	var programErr *ProgramError
	if errors.As(err, &programErr) {
		return programErr
	}

	switch {
	case errors.Is(err, host.ErrInvalidSignature), errors.Is(err, host.ErrMissingSigner):
		return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid signature")
	case errors.Is(err, common.ErrAccountNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "challenge not found")
	case errors.Is(err, common.ErrAccountExists):
		return echo.NewHTTPError(http.StatusConflict, "challenge address already in use")
	case errors.Is(err, ErrAssetPairTooLong):
		return echo.NewHTTPError(http.StatusBadRequest, "asset pair exceeds reserved space")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process challenge")
	}
}
