/*
smailer - Relay of telephony events to email.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors
Copyright © 2024 smailer contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package notify

import "github.com/prometheus/client_golang/prometheus"

var activeErrors = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "smailer",
		Subsystem: "notify",
		Name:      "active_errors",
		Help:      "Whether an error notification of the kind is currently shown",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(activeErrors)
}
