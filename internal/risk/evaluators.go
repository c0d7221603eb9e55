package risk

// blocklistEvaluator fires when the attempt IP is on the configured
// known-bad list. The list lives in memory; no lookup I/O happens here.
type blocklistEvaluator struct {
	points int
	ips    map[string]struct{}
}

func (e *blocklistEvaluator) Name() string { return IndicatorIPBlocklist }

func (e *blocklistEvaluator) Evaluate(rc Context, sig Signals) int {
	if sig.IPBlocklisted {
		return e.points
	}
	if _, bad := e.ips[rc.IP]; bad {
		return e.points
	}
	return 0
}

// geoJumpEvaluator fires when the attempt resolves to a different country
// than the user's last successful login. Either side missing is neutral.
type geoJumpEvaluator struct {
	points int
}

func (e *geoJumpEvaluator) Name() string { return IndicatorGeoJump }

func (e *geoJumpEvaluator) Evaluate(rc Context, sig Signals) int {
	if sig.Country == "" || sig.LastCountry == "" {
		return 0
	}
	if sig.Country != sig.LastCountry {
		return e.points
	}
	return 0
}

// unusualHourEvaluator fires when the user has enough login history and has
// never logged in during this hour of day.
type unusualHourEvaluator struct {
	points     int
	minHistory int
}

func (e *unusualHourEvaluator) Name() string { return IndicatorUnusualHour }

func (e *unusualHourEvaluator) Evaluate(rc Context, sig Signals) int {
	total := 0
	for _, n := range sig.LoginHourHistogram {
		total += n
	}
	if total < e.minHistory {
		return 0
	}
	if sig.LoginHourHistogram[rc.At.UTC().Hour()] == 0 {
		return e.points
	}
	return 0
}

// newDeviceEvaluator fires when a fingerprint is presented that the user has
// not used before. A user with no device history at all is scored the same
// way: the first device is still unseen.
type newDeviceEvaluator struct {
	points int
}

func (e *newDeviceEvaluator) Name() string { return IndicatorNewDevice }

func (e *newDeviceEvaluator) Evaluate(rc Context, sig Signals) int {
	if rc.DeviceFingerprint == "" {
		return 0
	}
	if !sig.KnownDevice {
		return e.points
	}
	return 0
}

// failedLoginEvaluator fires when recent failed logins reach the burst size.
type failedLoginEvaluator struct {
	points int
	burst  int
}

func (e *failedLoginEvaluator) Name() string { return IndicatorFailedLogins }

func (e *failedLoginEvaluator) Evaluate(rc Context, sig Signals) int {
	if e.burst > 0 && sig.RecentFailedLogins >= e.burst {
		return e.points
	}
	return 0
}

// sessionCountEvaluator fires when the user already holds more active
// sessions than the configured ceiling.
type sessionCountEvaluator struct {
	points int
	max    int
}

func (e *sessionCountEvaluator) Name() string { return IndicatorSessionAnomaly }

func (e *sessionCountEvaluator) Evaluate(rc Context, sig Signals) int {
	if e.max > 0 && sig.ActiveSessions > e.max {
		return e.points
	}
	return 0
}
