// Package discovery answers mDNS queries for the gateway's local name so
// devices on the office LAN can find the broker without a fixed address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pion/mdns/v2"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// LocalName returns name with the .local suffix mDNS requires
func LocalName(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(name, ".local") {
		name += ".local"
	}
	return name
}

// Serve answers queries for localName until ctx is cancelled
func Serve(ctx context.Context, localName string, log *zap.Logger) error {
	name := LocalName(localName)
	if name == "" {
		return fmt.Errorf("mdns: empty local name")
	}

	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return fmt.Errorf("mdns: resolve udp4: %w", err)
	}
	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		return fmt.Errorf("mdns: resolve udp6: %w", err)
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return fmt.Errorf("mdns: listen udp4: %w", err)
	}
	var pc6 *ipv6.PacketConn
	if l6, err := net.ListenUDP("udp6", addr6); err != nil {
		// IPv4 only hosts are common on office networks
		log.Warn("mDNS IPv6 listener unavailable", zap.Error(err))
	} else {
		pc6 = ipv6.NewPacketConn(l6)
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), pc6, &mdns.Config{
		LocalNames: []string{name},
	})
	if err != nil {
		l4.Close()
		return fmt.Errorf("mdns: start server: %w", err)
	}
	log.Info("mDNS responder started", zap.String("name", name))

	<-ctx.Done()
	return conn.Close()
}
