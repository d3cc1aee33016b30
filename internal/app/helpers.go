package app

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// NormalizeLocalViewer ensures the viewer only binds to localhost
// and returns listen addr and browser URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	return a, "http://" + a
}

func WaitTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", addr)
}

func logBanner(peerDir, cfgPath, self, transport string) {
	log.Info("────────────────────────────────────────")
	log.Info("Goopcall peer scope")
	log.Infof(" Peer folder : %s", peerDir)
	log.Infof(" Config file : %s", cfgPath)
	log.Infof(" Identity    : %s", self)
	log.Infof(" Signaling   : %s", transport)
	log.Info("")
	log.Info(" This process is ONE call endpoint.")
	log.Info(" Different folder/config = different peer.")
	log.Info("────────────────────────────────────────")
}
