package api

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const maxBodySize = 1 << 20

// sonicSerializer makes c.JSON and c.Bind use sonic.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	if err := decodeStrict(c.Request().Body, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

func decodeStrict(r io.Reader, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(r, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
