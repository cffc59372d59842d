package broker

import (
	"context"
	"fmt"
	"net"

	"github.com/eclipse/paho.golang/paho"
)

// TCPDialer connects over plain TCP and performs the paho CONNECT
// handshake. It is the production Dialer; tests substitute a fake.
type TCPDialer struct {
	Host string
	Port uint16
}

func (d TCPDialer) Dial(ctx context.Context, will *paho.WillMessage, username, password string) (PahoClient, error) {
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client := paho.NewClient(paho.ClientConfig{Conn: conn})

	connect := &paho.Connect{
		KeepAlive:  30,
		CleanStart: true,
	}
	if username != "" {
		connect.Username = username
		connect.UsernameFlag = true
		connect.Password = []byte(password)
		connect.PasswordFlag = true
	}
	if will != nil {
		connect.WillMessage = will
		connect.WillProperties = &paho.WillProperties{}
	}
	if _, err := client.Connect(ctx, connect); err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}
