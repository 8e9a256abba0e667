package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	mongoadapter "github.com/avolkhin/movie-seat-reservations/internal/adapters/mongo"
	"github.com/avolkhin/movie-seat-reservations/internal/adapters/rabbit"
	redisadapter "github.com/avolkhin/movie-seat-reservations/internal/adapters/redis"
	"github.com/avolkhin/movie-seat-reservations/internal/config"
	"github.com/avolkhin/movie-seat-reservations/internal/domain"
	httphandler "github.com/avolkhin/movie-seat-reservations/internal/http"
	"github.com/avolkhin/movie-seat-reservations/internal/observability"
	"github.com/avolkhin/movie-seat-reservations/internal/rateLimit"
	"github.com/avolkhin/movie-seat-reservations/internal/reservation"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const baseURL = "http://localhost:8089"

func postJSON(t *testing.T, url string, body map[string]interface{}, idempotency bool) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if idempotency {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func seatStates(t *testing.T, movieID string) map[string]string {
	t.Helper()
	resp, err := http.Get(baseURL + "/v1/seats/" + movieID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list seats: status %d", resp.StatusCode)
	}
	var seats []struct {
		SeatNumber string `json:"seat_number"`
		State      string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&seats); err != nil {
		t.Fatal(err)
	}
	states := make(map[string]string, len(seats))
	for _, s := range seats {
		states[s.SeatNumber] = s.State
	}
	return states
}

func TestIntegration_HoldConfirmExpire(t *testing.T) {
	ctx := context.Background()

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	rabbitHost, err := rabbitContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rabbitPort, err := rabbitContainer.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		HTTPAddr:      ":8089",
		MongoURI:      "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		MongoDatabase: "reservations",
		RedisAddr:     redisHost + ":" + redisPort.Port(),
		RabbitURL:     "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		HoldTTL:       time.Minute,
		SweepInterval: time.Minute,
		OTLPEndpoint:  "", // Skip otel for test
	}

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database(cfg.MongoDatabase)
	seats := mongoadapter.NewSeatStore(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := redisadapter.NewIdempotency(redisClient, time.Hour)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}

	manager := reservation.NewManager(seats, rabbitPub, logger)
	handlers := httphandler.NewHandlers(cfg, manager, seats, cache, idemp, audit, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go srv.ListenAndServe()
	defer srv.Shutdown(ctx)
	time.Sleep(100 * time.Millisecond)

	movie := mongoadapter.MovieDoc{
		ID:    "movie-1",
		Title: "Integration Movie",
		Seats: []mongoadapter.SeatDoc{
			{Number: "A1", State: string(domain.SeatFree)},
			{Number: "A2", State: string(domain.SeatFree)},
		},
	}
	if err := seats.InsertMovie(ctx, movie); err != nil {
		t.Fatal(err)
	}

	// u1 wins the hold on A1, u2 loses.
	resp := postJSON(t, baseURL+"/v1/seats/movie-1/A1/hold", map[string]interface{}{
		"holder_id": "u1", "hold_seconds": 60,
	}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("hold A1/u1: status %d", resp.StatusCode)
	}

	resp = postJSON(t, baseURL+"/v1/seats/movie-1/A1/hold", map[string]interface{}{
		"holder_id": "u2", "hold_seconds": 60,
	}, true)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("hold A1/u2: expected 409, got %d", resp.StatusCode)
	}

	// Confirming with the wrong holder fails, with the right one sticks.
	resp = postJSON(t, baseURL+"/v1/seats/movie-1/A1/confirm", map[string]interface{}{"holder_id": "u2"}, false)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("confirm A1/u2: expected 409, got %d", resp.StatusCode)
	}
	resp = postJSON(t, baseURL+"/v1/seats/movie-1/A1/confirm", map[string]interface{}{"holder_id": "u1"}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm A1/u1: status %d", resp.StatusCode)
	}

	if states := seatStates(t, "movie-1"); states["A1"] != string(domain.SeatBooked) {
		t.Fatalf("expected A1 booked, got %q", states["A1"])
	}

	// A short hold on A2 expires on its own and the seat comes back.
	resp = postJSON(t, baseURL+"/v1/seats/movie-1/A2/hold", map[string]interface{}{
		"holder_id": "u3", "hold_seconds": 1,
	}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("hold A2/u3: status %d", resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if states := seatStates(t, "movie-1"); states["A2"] == string(domain.SeatFree) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("A2 was never released after its hold expired")
		}
		time.Sleep(250 * time.Millisecond)
	}

	// Confirm after expiry is gone, cancel after expiry is a no-op success.
	resp = postJSON(t, baseURL+"/v1/seats/movie-1/A2/confirm", map[string]interface{}{"holder_id": "u3"}, false)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("confirm A2/u3 after expiry: expected 410, got %d", resp.StatusCode)
	}
	resp = postJSON(t, baseURL+"/v1/seats/movie-1/A2/cancel", map[string]interface{}{"holder_id": "u3"}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel A2/u3 after expiry: expected 200, got %d", resp.StatusCode)
	}

	// A confirmed booking is never un-booked by a stale timer.
	time.Sleep(2 * time.Second)
	if states := seatStates(t, "movie-1"); states["A1"] != string(domain.SeatBooked) {
		t.Fatalf("A1 booking was undone: %q", states["A1"])
	}

	// Unknown movie and unknown seat are 404s.
	resp = postJSON(t, baseURL+"/v1/seats/no-such-movie/A1/hold", map[string]interface{}{
		"holder_id": "u4", "hold_seconds": 60,
	}, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("hold on unknown movie: expected 404, got %d", resp.StatusCode)
	}
}
