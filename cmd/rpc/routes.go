package rpc

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Authority RPC Paths
const (
	StatusRoutePath          = "/v1/status"
	TransactionRoutePath     = "/v1/authority/transaction"
	CertificateRoutePath     = "/v1/authority/certificate"
	AccountInfoRoutePath     = "/v1/authority/account"
	ObjectInfoRoutePath      = "/v1/authority/object"
	TransactionInfoRoutePath = "/v1/authority/tx"
	CheckpointRoutePath      = "/v1/authority/checkpoint"
)

const (
	StatusRouteName          = "status"
	TransactionRouteName     = "transaction"
	CertificateRouteName     = "certificate"
	AccountInfoRouteName     = "account"
	ObjectInfoRouteName      = "object"
	TransactionInfoRouteName = "tx"
	CheckpointRouteName      = "checkpoint"
)

// routes contains the method and path for an authority command
type routes map[string]struct {
	Method string
	Path   string
}

// routePaths is a mapping from route names to their corresponding HTTP methods and paths
var routePaths = routes{
	StatusRouteName:          {Method: http.MethodGet, Path: StatusRoutePath},
	TransactionRouteName:     {Method: http.MethodPost, Path: TransactionRoutePath},
	CertificateRouteName:     {Method: http.MethodPost, Path: CertificateRoutePath},
	AccountInfoRouteName:     {Method: http.MethodPost, Path: AccountInfoRoutePath},
	ObjectInfoRouteName:      {Method: http.MethodPost, Path: ObjectInfoRoutePath},
	TransactionInfoRouteName: {Method: http.MethodPost, Path: TransactionInfoRoutePath},
	CheckpointRouteName:      {Method: http.MethodPost, Path: CheckpointRoutePath},
}

// httpRouteHandlers is a custom type that maps strings to httprouter handle functions
type httpRouteHandlers map[string]httprouter.Handle

// createRouter initializes and returns a new HTTP router with the authority route handlers
func createRouter(s *Server) *httprouter.Router {
	var r = httpRouteHandlers{
		StatusRouteName:          s.Status,
		TransactionRouteName:     handle(s, s.state.HandleTransaction),
		CertificateRouteName:     handle(s, s.state.HandleConfirmationTransaction),
		AccountInfoRouteName:     handle(s, s.state.HandleAccountInfoRequest),
		ObjectInfoRouteName:      handle(s, s.state.HandleObjectInfoRequest),
		TransactionInfoRouteName: handle(s, s.state.HandleTransactionInfoRequest),
		CheckpointRouteName:      handle(s, s.state.HandleCheckpointRequest),
	}
	router := httprouter.New()
	for name, handler := range r {
		path := routePaths[name]
		router.Handle(path.Method, path.Path, logHandler{path: path.Path, h: handler, log: s.log}.Handle)
	}
	return router
}
