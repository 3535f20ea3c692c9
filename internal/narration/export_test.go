package narration

// SetMaxAudioBytes overrides the audio size limit of c.
func SetMaxAudioBytes(c *HTTPClient, limit int64) {
	c.maxAudioBytes = limit
}
