package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/challenger/internal/pkg/challenge"
	"github.com/vreid/challenger/internal/pkg/common"
)

const publishTimeout = 5 * time.Second

type JournalService struct {
	DatabaseService *common.DatabaseService
	Publisher       Publisher

	EventSource <-chan challenge.Event
	Channel     string
}

func NewJournalService(i do.Injector) (*JournalService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	eventSource := do.MustInvokeNamed[<-chan challenge.Event](i, "event-source")
	valkeyAddr := do.MustInvokeNamed[string](i, "valkey-addr")
	channel := do.MustInvokeNamed[string](i, "events-channel")

	result := &JournalService{
		DatabaseService: databaseService,

		EventSource: eventSource,
		Channel:     channel,
	}

	if len(valkeyAddr) > 0 {
		publisher, err := NewValkeyPublisher(valkeyAddr)
		if err != nil {
			return nil, err
		}

		result.Publisher = publisher
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		apiGroup := e.Group("/api")

		journalGroup := apiGroup.Group("/journal")

		journalGroup.GET("/counts", result.GetCounts)
	})

	return result, nil
}

func (s *JournalService) Start() {
	go s.processEvents()
}

func (s *JournalService) Shutdown() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
}

// HandleEvent counts the event by kind and forwards it to the publisher, if
// one is configured. Failures are logged; the invocation already committed.
func (s *JournalService) HandleEvent(ctx context.Context, event challenge.Event) {
	_, err := s.DatabaseService.Increment(common.JournalCountBucket, string(event.Kind))
	if err != nil {
		log.Printf("failed to count %s event for %s: %v", event.Kind, event.Address, err)
	}

	if s.Publisher == nil {
		return
	}

	message, err := json.Marshal(event)
	if err != nil {
		log.Printf("failed to marshal %s event for %s: %v", event.Kind, event.Address, err)

		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = s.Publisher.Publish(ctx, s.Channel, message)
	if err != nil {
		log.Printf("failed to publish %s event for %s: %v", event.Kind, event.Address, err)
	}
}

func (s *JournalService) GetCounts(c echo.Context) error {
	counts, err := s.DatabaseService.Counts(common.JournalCountBucket)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read counts")
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, counts)
}

func (s *JournalService) processEvents() {
	for event := range s.EventSource {
		s.HandleEvent(context.Background(), event)
	}
}
