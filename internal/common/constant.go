package common

// AuthorizationHeaderName is the HTTP header carrying the bearer access token
// on inbound requests.
const AuthorizationHeaderName = "Authorization"
