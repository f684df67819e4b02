package auth

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/go-chi/chi/v5"
)

// LoginParams defines parameters for Login.
type LoginParams struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// RegisterParams defines parameters for Register.
type RegisterParams struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Staff registration (POST /api/billing/register)
	Register(w http.ResponseWriter, r *http.Request, params RegisterParams)
	// Staff authentication (POST /api/billing/login)
	Login(w http.ResponseWriter, r *http.Request, params LoginParams)
}

// ServerInterfaceWrapper converts payloads to parameters.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

// Register operation middleware.
func (siw *ServerInterfaceWrapper) Register(w http.ResponseWriter, r *http.Request) {
	var params RegisterParams

	data, err := io.ReadAll(r.Body)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	r.Body.Close()

	if err = json.Unmarshal(data, &params); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	// ------------- Required JSON body parameter "login" -------------

	if params.Login == "" {
		siw.ErrorHandlerFunc(w, r,
			&errs.RequiredJSONBodyParamError{ParamName: "login"})
		return
	}

	// ------------- Required JSON body parameter "password" ----------

	if params.Password == "" {
		siw.ErrorHandlerFunc(w, r,
			&errs.RequiredJSONBodyParamError{ParamName: "password"})
		return
	}

	siw.Handler.Register(w, r, params)
}

// Login operation middleware.
func (siw *ServerInterfaceWrapper) Login(w http.ResponseWriter, r *http.Request) {
	var params LoginParams

	data, err := io.ReadAll(r.Body)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	r.Body.Close()

	if err = json.Unmarshal(data, &params); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	// ------------- Required JSON body parameter "login" -------------

	if params.Login == "" {
		siw.ErrorHandlerFunc(w, r,
			&errs.RequiredJSONBodyParamError{ParamName: "login"})
		return
	}

	// ------------- Required JSON body parameter "password" ----------

	if params.Password == "" {
		siw.ErrorHandlerFunc(w, r,
			&errs.RequiredJSONBodyParamError{ParamName: "password"})
		return
	}

	siw.Handler.Login(w, r, params)
}

type ChiServerOptions struct {
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
	BaseRouter       chi.Router
	BaseURL          string
}

// HandlerWithOptions creates an http.Handler with the configured
// options.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}

	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/register", wrapper.Register)
		r.Post(options.BaseURL+"/login", wrapper.Login)
	})

	return r
}
