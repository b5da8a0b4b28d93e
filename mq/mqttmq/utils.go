package mqttmq

import "crypto/rand"

func randSuffix() []byte {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return b
}
