package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	searchPath = "/search"
	dateLayout = "2006-01-02"
)

// ClientOptions parameterise the fare search API client.
type ClientOptions struct {
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	Passengers     int
	CabinClass     string
	DaysAhead      int
	TripLengthDays int
}

// Client fetches fares from a fare search API.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewClient constructs a fare API client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Passengers <= 0 {
		opts.Passengers = 1
	}
	if opts.CabinClass == "" {
		opts.CabinClass = "economy"
	}
	if opts.DaysAhead <= 0 {
		opts.DaysAhead = 30
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "fare_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		now:     time.Now,
	}
}

// FetchFare queries the search API and returns the cheapest itinerary.
func (c *Client) FetchFare(ctx context.Context, origin, destination string) (FareQuote, error) {
	if c.baseURL == "" {
		return FareQuote{}, errors.New("scraper base url not configured")
	}
	if origin == "" || destination == "" {
		return FareQuote{}, errors.New("origin and destination are required")
	}

	departure := c.now().UTC().AddDate(0, 0, c.opts.DaysAhead)
	query := url.Values{}
	query.Set("origin", origin)
	query.Set("destination", destination)
	query.Set("departure_date", departure.Format(dateLayout))
	query.Set("adults", strconv.Itoa(c.opts.Passengers))
	query.Set("cabin", c.opts.CabinClass)
	query.Set("currency", "NZD")
	if c.opts.TripLengthDays > 0 {
		query.Set("return_date", departure.AddDate(0, 0, c.opts.TripLengthDays).Format(dateLayout))
	}

	endpoint := c.baseURL + searchPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FareQuote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "farewatch/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return FareQuote{}, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return FareQuote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return FareQuote{}, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var search searchResponse
	if err := json.Unmarshal(payloadBytes, &search); err != nil {
		return FareQuote{}, err
	}
	if len(search.Itineraries) == 0 {
		return FareQuote{}, errors.New("search returned no itineraries")
	}

	cheapest, err := pickCheapest(search.Itineraries)
	if err != nil {
		return FareQuote{}, err
	}

	quote := FareQuote{
		PriceNZD:   cheapest.price,
		Airline:    cheapest.itinerary.Airline,
		Stops:      cheapest.itinerary.Stops,
		CabinClass: c.opts.CabinClass,
		Raw:        json.RawMessage(payloadBytes),
	}

	departureDate, err := time.Parse(dateLayout, cheapest.itinerary.DepartureDate)
	if err != nil {
		return FareQuote{}, fmt.Errorf("parse departure date: %w", err)
	}
	quote.DepartureDate = departureDate

	if cheapest.itinerary.ReturnDate != "" {
		returnDate, err := time.Parse(dateLayout, cheapest.itinerary.ReturnDate)
		if err != nil {
			return FareQuote{}, fmt.Errorf("parse return date: %w", err)
		}
		quote.ReturnDate = &returnDate
	}

	c.logger.Debug().
		Str("origin", origin).
		Str("destination", destination).
		Str("price_nzd", quote.PriceNZD.StringFixed(2)).
		Str("airline", quote.Airline).
		Msg("fare fetched")

	return quote, nil
}

type searchResponse struct {
	Itineraries []itinerary `json:"itineraries"`
}

type itinerary struct {
	Price         itineraryPrice `json:"price"`
	Airline       string         `json:"airline"`
	Stops         int            `json:"stops"`
	DepartureDate string         `json:"departure_date"`
	ReturnDate    string         `json:"return_date,omitempty"`
}

type itineraryPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type pricedItinerary struct {
	itinerary itinerary
	price     decimal.Decimal
}

func pickCheapest(itineraries []itinerary) (pricedItinerary, error) {
	var best pricedItinerary
	for i, it := range itineraries {
		amount, err := decimal.NewFromString(it.Price.Amount)
		if err != nil {
			return pricedItinerary{}, fmt.Errorf("parse itinerary price %q: %w", it.Price.Amount, err)
		}
		if amount.Sign() <= 0 {
			return pricedItinerary{}, fmt.Errorf("itinerary price must be positive, got %s", amount)
		}
		if it.Price.Currency != "" && it.Price.Currency != "NZD" {
			return pricedItinerary{}, fmt.Errorf("unexpected currency %q", it.Price.Currency)
		}
		if i == 0 || amount.LessThan(best.price) {
			best = pricedItinerary{itinerary: it, price: amount}
		}
	}
	return best, nil
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("fare api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("fare api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("fare api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("fare api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("fare api error (%d)", status)
}

var _ FareFetcher = (*Client)(nil)
