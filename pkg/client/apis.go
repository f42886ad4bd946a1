package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/linepark/pkg/config"
	"github.com/charlie0129/linepark/pkg/events"
	"github.com/charlie0129/linepark/pkg/types"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

func (c *Client) GetStatus() ([]types.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st []types.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return st, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) SetCalibration(cal vehicle.Calibration) (string, error) {
	payload, err := json.Marshal(cal)
	if err != nil {
		return "", err
	}
	return c.Put("/calibration", string(payload))
}

func (c *Client) SetParking(enabled bool) (string, error) {
	return c.Put("/parking", strconv.FormatBool(enabled))
}

func (c *Client) GetHistory(limit int) ([]types.Cycle, error) {
	ret, err := c.Get("/history?limit=" + strconv.Itoa(limit))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get history")
	}

	var cycles []types.Cycle
	if err := json.Unmarshal([]byte(ret), &cycles); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal history")
	}
	return cycles, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}

	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}

// StreamEvents calls fn for every event until ctx is cancelled, the daemon
// closes the stream, or fn returns false.
func (c *Client) StreamEvents(ctx context.Context, fn func(events.Event) bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/events", "")
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("got %d from event stream", resp.StatusCode)
	}

	var ev events.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if ev.Name != "" && !fn(ev) {
				return nil
			}
			ev = events.Event{}
			continue
		}
		key, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch key {
		case "id":
			ev.ID, _ = strconv.ParseUint(value, 10, 64)
		case "event":
			ev.Name = value
		case "data":
			ev.Data = append(ev.Data, value...)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}
