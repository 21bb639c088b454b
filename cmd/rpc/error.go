package rpc

import (
	"fmt"

	"github.com/canopy-network/fastpath/lib"
)

func ErrPostRequest(err error) lib.ErrorI {
	return lib.NewError(lib.CodePostRequest, lib.RPCModule, fmt.Sprintf("http.Post() failed with err: %s", err.Error()))
}

func ErrNewRequest(err error) lib.ErrorI {
	return lib.NewError(lib.CodeNewRequest, lib.RPCModule, fmt.Sprintf("http.NewRequest() failed with err: %s", err.Error()))
}

func ErrHttpStatus(status string, statusCode int, body []byte) lib.ErrorI {
	return lib.NewError(lib.CodeHttpStatus, lib.RPCModule, fmt.Sprintf("http response bad status %s with code %d and body %s", status, statusCode, body))
}

func ErrReadBody(err error) lib.ErrorI {
	return lib.NewError(lib.CodeReadBody, lib.RPCModule, fmt.Sprintf("io.ReadAll(http.ResponseBody) failed with err: %s", err.Error()))
}

func ErrServerTimeout() lib.ErrorI {
	return lib.NewError(lib.CodeServer, lib.RPCModule, "server timeout")
}

func ErrServer(err error) lib.ErrorI {
	return lib.NewError(lib.CodeServer, lib.RPCModule, fmt.Sprintf("rpc server failed with err: %s", err.Error()))
}
