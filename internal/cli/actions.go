package cli

// Indirections so tests can stub command actions.
var (
	fnServe    = serve
	fnPlatform = showPlatform
	fnScan     = scanPlugins
	fnLoad     = loadPlugins
	fnStats    = remoteStats
	fnCall     = remoteCall
	fnEvents   = watchEvents
)
