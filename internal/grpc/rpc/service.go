package rpc

const ServiceName = "siloconfig.v1.ConfigService"

const (
	MethodRegisterClient       = "RegisterClient"
	MethodHeartbeat            = "Heartbeat"
	MethodGetValues            = "GetValues"
	MethodApiInstanceHeartbeat = "ApiInstanceHeartbeat"
)

// APIKeyMetadata carries the admin key on ApiInstanceHeartbeat calls.
const APIKeyMetadata = "x-api-key"

// FullMethod returns the wire path of a method, e.g.
// "/siloconfig.v1.ConfigService/Heartbeat".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
