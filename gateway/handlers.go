package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/protocol"
)

const jsonContentType = "application/json; charset=utf-8"

// command runs {"command": "GET", "args": ["foo"]} and answers with
// {"result": ...} or {"error": "..."}.
func (g *Gateway) command(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		g.respondError(c, http.StatusBadRequest, err)
		return
	}

	if !gjson.ValidBytes(body) {
		g.respondError(c, http.StatusBadRequest, errors.New("Request body is not valid JSON"))
		return
	}

	name := gjson.GetBytes(body, "command")
	if name.Type != gjson.String || name.String() == "" {
		g.respondError(c, http.StatusBadRequest, errors.New("'command' must be a non empty string"))
		return
	}

	rawArgs := gjson.GetBytes(body, "args")
	if rawArgs.Exists() && !rawArgs.IsArray() {
		g.respondError(c, http.StatusBadRequest, errors.New("'args' must be an array"))
		return
	}

	var args []interface{}
	for _, arg := range rawArgs.Array() {
		args = append(args, arg.String())
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), g.timeout)
	defer cancel()

	result, err := g.client.Do(ctx, name.String(), args...)
	if err != nil {
		g.respondError(c, statusOf(err), err)
		return
	}

	response, err := EncodeResult(result)
	if err != nil {
		g.respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.Data(http.StatusOK, jsonContentType, response)
}

// health answers 200 once the server responds to PING.
func (g *Gateway) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), g.timeout)
	defer cancel()

	if _, err := g.client.Do(ctx, protocol.PING); err != nil {
		g.respondError(c, http.StatusServiceUnavailable, err)
		return
	}

	c.Data(http.StatusOK, jsonContentType, []byte(`{"status":"ok"}`))
}

func (g *Gateway) respondError(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		g.log.Warn("Command failed", zap.Int("status", status), zap.Error(err))
	}

	response, _ := sjson.SetBytes([]byte(`{}`), "error", err.Error())
	c.Data(status, jsonContentType, response)
}

func statusOf(err error) int {
	var (
		reply   protocol.ErrorReply
		connErr *client.ConnectionError
	)

	switch {
	case errors.As(err, &reply):
		return http.StatusUnprocessableEntity
	case errors.Is(err, client.ErrStreamingCommand):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &connErr), errors.Is(err, client.ErrDisconnected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// jsonValue turns a parsed reply into something that marshals sensibly,
// bulk strings become strings and nested error replies become objects.
func jsonValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		if v == nil {
			return nil
		}
		return string(v)

	case []interface{}:
		if v == nil {
			return nil
		}

		values := make([]interface{}, len(v))
		for i, elem := range v {
			values[i] = jsonValue(elem)
		}
		return values

	case map[string][]byte:
		values := make(map[string]string, len(v))
		for key, elem := range v {
			values[key] = string(elem)
		}
		return values

	case protocol.Queued:
		return "QUEUED"

	case error:
		return map[string]string{"error": v.Error()}

	default:
		return v
	}
}

// EncodeResult renders a parsed reply as {"result": ...}.
func EncodeResult(result interface{}) ([]byte, error) {
	return sjson.SetBytes([]byte(`{}`), "result", jsonValue(result))
}
