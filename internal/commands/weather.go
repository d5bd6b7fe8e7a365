package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// WeatherProvider fetches a one-line current-conditions summary for a
// city.
type WeatherProvider interface {
	Current(ctx context.Context, city string) (string, error)
}

// WttrProvider queries wttr.in's JSON endpoint.
type WttrProvider struct {
	baseURL string
	client  *http.Client
}

func NewWttrProvider(baseURL string) *WttrProvider {
	if baseURL == "" {
		baseURL = "https://wttr.in"
	}
	return &WttrProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *WttrProvider) Current(ctx context.Context, city string) (string, error) {
	u := fmt.Sprintf("%s/%s?format=j1", p.baseURL, url.PathEscape(city))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather provider returned status %d", resp.StatusCode)
	}

	var payload struct {
		CurrentCondition []struct {
			TempC       string `json:"temp_C"`
			WeatherDesc []struct {
				Value string `json:"value"`
			} `json:"weatherDesc"`
		} `json:"current_condition"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}

	if len(payload.CurrentCondition) == 0 || len(payload.CurrentCondition[0].WeatherDesc) == 0 {
		return "", fmt.Errorf("weather provider returned no conditions")
	}

	cond := payload.CurrentCondition[0]
	return fmt.Sprintf("%s: %s, %s°C", city, cond.WeatherDesc[0].Value, cond.TempC), nil
}

// WeatherCommand broadcasts current conditions for a city to the room.
// Provider responses are cached so a chatty room doesn't hammer the
// upstream service.
type WeatherCommand struct {
	provider WeatherProvider
	cache    *cache.Cache
}

func NewWeatherCommand(provider WeatherProvider) *WeatherCommand {
	return &WeatherCommand{
		provider: provider,
		cache:    cache.New(10*time.Minute, time.Minute),
	}
}

func (w *WeatherCommand) Command() *Command {
	return &Command{
		Name:        "weather",
		Description: "show current weather for a city",
		Usage:       "/weather <city>",
		Execute:     w.execute,
	}
}

func (w *WeatherCommand) execute(cc *Context, args []string) error {
	if len(args) == 0 {
		cc.Invoker.QueueEvent("command_error", map[string]any{"message": "usage: /weather <city>"})
		return nil
	}

	city := strings.Join(args, " ")
	key := strings.ToLower(city)

	if cached, found := w.cache.Get(key); found {
		cc.Broadcast.BroadcastSystem(cc.RoomId, cached.(string))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary, err := w.provider.Current(ctx, city)
	if err != nil {
		return fmt.Errorf("weather lookup for %q: %w", city, err)
	}

	w.cache.Set(key, summary, cache.DefaultExpiration)
	cc.Broadcast.BroadcastSystem(cc.RoomId, summary)
	return nil
}
