package irc

// Numeric replies the bridge reacts to
const (
	RPL_WELCOME     = "001"
	RPL_NAMREPLY    = "353"
	RPL_LOGGEDIN    = "900"
	RPL_SASLSUCCESS = "903"
	ERR_SASLFAIL    = "904"
	ERR_SASLTOOLONG = "905"
	ERR_SASLALREADY = "907"
)

// Text markers used by account-registration capable servers
const (
	accountMissingText    = "Account does not exist"
	accountRegisteredText = "Account successfully registered"
)
