// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "SonicGen")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "sonicgen.log")
	viper.SetDefault("main.log.maxsize", 100)
	viper.SetDefault("main.log.maxage", 28)
	viper.SetDefault("main.log.maxfiles", 3)

	viper.SetDefault("audio.samplerate", 22050)
	viper.SetDefault("audio.path", "audio/")

	viper.SetDefault("spectral.nfft", 2048)
	viper.SetDefault("spectral.hop", 512)

	viper.SetDefault("landmark.peakneighborhoodfreq", 20)
	viper.SetDefault("landmark.peakneighborhoodtime", 20)
	viper.SetDefault("landmark.peakpercentile", 75.0)
	viper.SetDefault("landmark.fandt", 200)
	viper.SetDefault("landmark.fandf", 100)
	viper.SetDefault("landmark.fanout", 10)

	viper.SetDefault("sampler.minmatchable", 10000)
	viper.SetDefault("sampler.anchors", DefaultSamplerAnchors())

	viper.SetDefault("match.ignorefraction", 0.01)
	viper.SetDefault("match.minmatches", 6)
	viper.SetDefault("match.maxhitsperhash", 1000)
	viper.SetDefault("match.limitcandidates", 50)
	viper.SetDefault("match.deltatolerance", 1)
	viper.SetDefault("match.matchthreshold", 0.10)

	viper.SetDefault("ingest.minfingerprintcount", 10000)
	viper.SetDefault("ingest.insertchunk", 10000)
	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.claimbatch", 8)
	viper.SetDefault("ingest.persourcetimeout", 10*time.Minute)
	viper.SetDefault("ingest.retrymaxelapsed", 30*time.Second)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "sonicgen.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "sonicgen")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "sonicgen")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}

// DefaultSamplerAnchors returns the built-in segment sampling curve.
// Densities between anchor lengths are linearly interpolated, lengths
// outside the range are clamped to the first or last anchor.
func DefaultSamplerAnchors() []map[string]any {
	return []map[string]any{
		{"length": 10000, "segments": 3, "hashespersegment": 1000},
		{"length": 50000, "segments": 5, "hashespersegment": 1500},
		{"length": 200000, "segments": 8, "hashespersegment": 2000},
		{"length": 1000000, "segments": 12, "hashespersegment": 3000},
	}
}
