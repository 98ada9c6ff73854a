package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// runPair handles "think pair". It prints a QR code a phone can scan to
// reach this server. Without an explicit URL, one is built from the
// configured listen port and the first non-loopback address.
func runPair(stdout io.Writer, opts options, args []string) error {
	var url string
	switch len(args) {
	case 0:
		cfg, _, err := loadConfig(opts.configPath)
		if err != nil {
			return err
		}
		host := cfg.Listen.Address
		if host == "" || host == "0.0.0.0" || host == "::" {
			if host, err = lanAddress(); err != nil {
				return err
			}
		}
		url = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Listen.Port))
	case 1:
		url = args[0]
	default:
		return errors.New("usage: think pair [url]")
	}

	if opts.outputFmt == "json" {
		fmt.Fprintf(stdout, "{\"url\":%q}\n", url)
		return nil
	}

	art, err := renderQR(url)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, art)
	fmt.Fprintln(stdout, url)
	return nil
}

// renderQR draws the code for content with half-block characters, two
// modules per text row.
func renderQR(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	bitmap := q.Bitmap()

	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bottom := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bottom:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bottom:
				sb.WriteRune('▄')
			default:
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// lanAddress returns the first non-loopback IPv4 address of this host.
func lanAddress() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", errors.New("no network address found; pass the URL explicitly")
}
