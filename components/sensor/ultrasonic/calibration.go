package ultrasonic

// Conversions use integer arithmetic throughout. soundSpeedFactor is the round trip time, in
// hundredths of a microsecond, for one millimetre of distance.

// SetTemperatureCorrection recomputes the speed of sound for the ambient temperature using
// 331 m/s + 0.6 m/s per degree.
func (s *Sonar) SetTemperatureCorrection(celsius int8) {
	s.soundSpeedFactor = uint32(2000000 / (3310 + 6*int32(celsius)))
}

// SetTimeOutDistance sets the timeout to the round trip time of an echo from maxDistanceMM away.
func (s *Sonar) SetTimeOutDistance(maxDistanceMM uint32) {
	s.timeout = uint32(uint64(maxDistanceMM) * 2 * uint64(s.soundSpeedFactor) / 100000)
}

// SetTimeOut sets how many milliseconds after a pulse an echo is given up on.
func (s *Sonar) SetTimeOut(millis uint32) {
	s.timeout = millis
}

// SetTriggerInterval sets the delay, relative to the previous sensor's pulse, used when this
// sonar is started as the next link of a chain.
func (s *Sonar) SetTriggerInterval(millis uint32) {
	s.triggerInterval = millis
}

// TimeOut returns the timeout in milliseconds.
func (s *Sonar) TimeOut() uint32 {
	return s.timeout
}

// TriggerInterval returns the chain delay in milliseconds.
func (s *Sonar) TriggerInterval() uint32 {
	return s.triggerInterval
}

// SoundSpeedFactor returns the current time to distance divisor.
func (s *Sonar) SoundSpeedFactor() uint32 {
	return s.soundSpeedFactor
}

// RawDuration returns the microseconds between the echo edges of the last cycle, or the timeout
// in microseconds if it timed out. Noise is not filtered out.
func (s *Sonar) RawDuration() uint32 {
	return s.lastRaw
}

// RawDistance is RawDuration in millimetres.
func (s *Sonar) RawDistance() uint32 {
	return s.toMillimeters(s.RawDuration())
}

// MeasuredDuration returns the last non-zero echo duration in microseconds.
func (s *Sonar) MeasuredDuration() uint32 {
	return s.lastMeasured
}

// MeasuredDistance is MeasuredDuration in millimetres.
func (s *Sonar) MeasuredDistance() uint32 {
	return s.toMillimeters(s.MeasuredDuration())
}

// FilteredDuration returns the median of the last five measured durations. Until five have been
// recorded it returns MeasuredDuration.
func (s *Sonar) FilteredDuration() uint32 {
	if m := s.filter.median(); m != 0 {
		return m
	}
	return s.MeasuredDuration()
}

// FilteredDistance is FilteredDuration in millimetres.
func (s *Sonar) FilteredDistance() uint32 {
	return s.toMillimeters(s.FilteredDuration())
}

func (s *Sonar) toMillimeters(micros uint32) uint32 {
	return uint32(uint64(micros) * 100 / uint64(s.soundSpeedFactor))
}
