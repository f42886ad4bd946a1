package daemon

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/linepark/pkg/config"
	"github.com/charlie0129/linepark/pkg/types"
	"github.com/charlie0129/linepark/pkg/vehicle"
	"github.com/charlie0129/linepark/pkg/version"
)

func getStatus(c *gin.Context) {
	statuses := make([]types.Status, 0, len(vehicles))
	for _, v := range vehicles {
		statuses = append(statuses, v.Status())
	}
	c.IndentedJSON(http.StatusOK, statuses)
}

func getConfig(c *gin.Context) {
	rc, ok := conf.(interface{ Raw() config.RawFileConfig })
	if !ok {
		err := errors.New("config has no file representation")
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, rc.Raw())
}

func setCalibration(c *gin.Context) {
	var cal vehicle.Calibration
	if err := c.BindJSON(&cal); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := conf.SetCalibration(cal); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set calibration to line=%v base=%v", cal.Line, cal.Base)

	c.IndentedJSON(http.StatusCreated, "ok")
}

func setParking(c *gin.Context) {
	var enabled bool
	if err := c.BindJSON(&enabled); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	conf.SetParkingAllowed(enabled)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if enabled {
		logrus.Info("parking allowed")
	} else {
		logrus.Info("parking disallowed")
	}

	c.IndentedJSON(http.StatusCreated, "ok")
}

func getHistory(c *gin.Context) {
	if journalDB == nil {
		err := errors.New("journal is disabled")
		c.IndentedJSON(http.StatusServiceUnavailable, err.Error())
		_ = c.AbortWithError(http.StatusServiceUnavailable, err)
		return
	}

	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			err = errors.New("limit must be a non-negative integer")
			c.IndentedJSON(http.StatusBadRequest, err.Error())
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		limit = n
	}

	cycles, err := journalDB.Cycles(limit)
	if err != nil {
		logrus.Errorf("reading journal failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	out := make([]types.Cycle, 0, len(cycles))
	for _, cy := range cycles {
		out = append(out, cycleRecord(cy))
	}
	c.IndentedJSON(http.StatusOK, out)
}

// streamEvents serves the event hub as server-sent events until the client
// goes away or the daemon shuts down.
func streamEvents(c *gin.Context) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-serverCtx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			err := sse.Encode(w, sse.Event{
				Id:    strconv.FormatUint(ev.ID, 10),
				Event: ev.Name,
				Data:  string(ev.Data),
			})
			if err != nil {
				logrus.WithError(err).Debug("failed to write event")
				return false
			}
			return true
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
