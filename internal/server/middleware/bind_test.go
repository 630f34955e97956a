package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestBindHeader(t *testing.T) {
	type args struct {
		header map[string]string
		out    interface{}
	}

	type normalCase struct {
		App     string `header:"app"`
		Service string `header:"service"`

		Non   string `header:"-"`
		Empty bool
	}

	type complexCase struct {
		Nine              int64   `header:"nine"`
		ThousandAndSeven  uint64  `header:"thousand-and-seven"`
		NegativeThirtyTwo int64   `header:"negative-thirty-two"`
		HundredPointSix   float32 `header:"hundred-point-six"`
		Rose              string  `header:"rose"`
	}

	tests := []struct {
		name    string
		args    args
		want    interface{}
		wantErr error
	}{
		{
			name: "normal bind header",
			args: args{
				header: map[string]string{
					"app":     "chat-sync",
					"service": "sync-dashboard",
					"non":     "non",
					"empty":   "empty",
				},
				out: new(normalCase),
			},
			want: &normalCase{
				App:     "chat-sync",
				Service: "sync-dashboard",
				Non:     "",
				Empty:   false,
			},
			wantErr: nil,
		},
		{
			name: "complex bind header",
			args: args{
				header: map[string]string{
					"nine":                "9",
					"thousand-and-seven":  "1007",
					"negative-thirty-two": "-32",
					"hundred-point-six":   "100.6",
					"rose":                "rose",
				},
				out: new(complexCase),
			},
			want: &complexCase{
				Nine:              9,
				ThousandAndSeven:  1007,
				NegativeThirtyTwo: -32,
				HundredPointSix:   100.6,
				Rose:              "rose",
			},
			wantErr: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			for k, v := range tt.args.header {
				header.Set(k, v)
			}
			err := bindHeader(header, tt.args.out)
			assert.EqualValues(t, err, tt.wantErr)
			assert.EqualValues(t, tt.want, tt.args.out)
		})
	}
}

func TestBindAndValidate(t *testing.T) {
	type submitRequest struct {
		Resource string `json:"resource" validate:"required"`
		Service  string `header:"service"`
	}

	e := echo.New()
	e.Validator = NewValidator()

	t.Run("bind body and header", func(t *testing.T) {
		body := strings.NewReader(`{"resource":"messages"}`)
		req := httptest.NewRequest(http.MethodPost, "/", body)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("service", "sync-dashboard")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		var out submitRequest
		err := BindAndValidate(c, &out)
		assert.NoError(t, err)
		assert.Equal(t, "messages", out.Resource)
		assert.Equal(t, "sync-dashboard", out.Service)
	})

	t.Run("missing required field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		var out submitRequest
		err := BindAndValidate(c, &out)
		var he *echo.HTTPError
		assert.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusBadRequest, he.Code)
	})
}
